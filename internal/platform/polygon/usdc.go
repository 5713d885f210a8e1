// Package polygon reads the controlled wallet's USDC collateral balance from
// a Polygon JSON-RPC endpoint.
package polygon

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// usdcDecimals is the fixed-point scale of the USDC contract.
var usdcDecimals = big.NewFloat(1e6)

// balanceOfSelector is the first 4 bytes of keccak256("balanceOf(address)").
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// BalanceReader implements domain.BalanceProvider with an eth_call against
// the USDC contract's balanceOf method.
type BalanceReader struct {
	client   *ethclient.Client
	contract common.Address
	wallet   common.Address
}

// NewBalanceReader dials rpcURL and returns a reader for wallet's balance on
// the given USDC contract.
func NewBalanceReader(ctx context.Context, rpcURL, usdcContract, wallet string) (*BalanceReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polygon: dial %s: %w", rpcURL, err)
	}
	return &BalanceReader{
		client:   client,
		contract: common.HexToAddress(usdcContract),
		wallet:   common.HexToAddress(wallet),
	}, nil
}

// BalanceUSD returns the wallet's USDC balance in whole dollars.
func (r *BalanceReader) BalanceUSD(ctx context.Context) (float64, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(r.wallet.Bytes(), 32)...)

	msg := ethereum.CallMsg{To: &r.contract, Data: data}
	out, err := r.client.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("polygon: balanceOf %s: %w", r.wallet.Hex(), err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("polygon: balanceOf %s: empty response", r.wallet.Hex())
	}

	units := new(big.Int).SetBytes(out)
	usd, _ := new(big.Float).Quo(new(big.Float).SetInt(units), usdcDecimals).Float64()
	return usd, nil
}

// Close releases the RPC connection.
func (r *BalanceReader) Close() {
	r.client.Close()
}

var _ domain.BalanceProvider = (*BalanceReader)(nil)
