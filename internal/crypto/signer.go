package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// ClobAuth(address address,uint256 timestamp,uint256 nonce)
	authTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)

	// Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload carries the signed fields of a CLOB order. Addresses and
// uint256 values are strings to preserve precision across JSON boundaries.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// Signer produces the EIP-712 signatures the CLOB API requires: ClobAuth
// messages for API key derivation and Order structs for order placement.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	authSep    []byte // ClobAuthDomain separator
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (137 for Polygon mainnet, 80002 for Amoy testnet).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
	s.authSep = domainSeparator("ClobAuthDomain", "1", chainID)
	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth struct used to derive an API key.
// Returns a hex-encoded 65-byte signature (r || s || v).
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concat(
		authTypeHash,
		common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32),
		uint256Bytes(big.NewInt(timestamp)),
		uint256Bytes(big.NewInt(nonce)),
	))
	return s.signDigest(typedDataDigest(s.authSep, structHash))
}

// SignOrder signs an Order struct for order placement. Returns a hex-encoded
// 65-byte signature.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(typedDataDigest(s.authSep, structHash))
}

// domainSeparator returns keccak256(typeHash || nameHash || versionHash || chainId).
func domainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(concat(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		uint256Bytes(big.NewInt(int64(chainID))),
	))
}

// typedDataDigest computes keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataDigest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concat([]byte{0x19, 0x01}, domainSep, structHash))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func orderStructHash(o OrderPayload) ([]byte, error) {
	nums := make([]*big.Int, 0, 6)
	for _, field := range []struct {
		name, val string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	} {
		n, ok := new(big.Int).SetString(field.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", field.name, field.val)
		}
		nums = append(nums, n)
	}

	return ethcrypto.Keccak256(concat(
		orderTypeHash,
		uint256Bytes(nums[0]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		uint256Bytes(nums[1]),
		uint256Bytes(nums[2]),
		uint256Bytes(nums[3]),
		uint256Bytes(nums[4]),
		uint256Bytes(nums[5]),
		uint256Bytes(nums[6]),
		uint256Bytes(big.NewInt(int64(o.Side))),
		uint256Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// uint256Bytes returns the 32-byte big-endian representation of n.
func uint256Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concat(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
