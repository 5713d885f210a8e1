// Package polymarket implements the venue clients: the CLOB REST API for
// order placement and the public data API for position lookups.
package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
)

// usdcScale converts between USD floats and the 6-decimal fixed-point
// amounts the exchange contract uses.
const usdcScale = 1e6

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Signature types accepted by the exchange contract.
const (
	sigTypeEOA       = 0
	sigTypePolyProxy = 1
)

// ClobClient signs and submits orders to the Polymarket CLOB API. It
// implements domain.OrderSubmitter; orders are placed as fill-or-kill taker
// orders at the observed price.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth

	// funder is the proxy wallet holding the collateral. When set, orders
	// are made by the proxy with the EOA as signer.
	funder string
}

// NewClobClient creates a CLOB client. baseURL is the API root, e.g.
// "https://clob.polymarket.com". funder is the proxy wallet address; empty
// means the signer's EOA trades directly. timeout bounds each HTTP request.
func NewClobClient(baseURL string, signer *crypto.Signer, funder string, timeout time.Duration) *ClobClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		funder:     funder,
	}
}

// DeriveAPIKey runs the CLOB auth flow: it signs a ClobAuth message and
// exchanges it for HMAC credentials used on subsequent requests. Must be
// called before SubmitOrder.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// SubmitOrder implements domain.OrderSubmitter. Transport failures, rate
// limits and 5xx responses come back as transient submission errors; other
// HTTP errors are fatal for the order.
func (c *ClobClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.hmacAuth == nil {
		return domain.OrderResult{}, &domain.SubmissionError{
			Err: fmt.Errorf("polymarket/clob: api key not derived"),
		}
	}

	payload, err := c.buildSignedOrder(req)
	if err != nil {
		return domain.OrderResult{}, &domain.SubmissionError{Err: err}
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return domain.OrderResult{}, err
	}

	var apiRes apiOrderResult
	if err := json.Unmarshal(respBody, &apiRes); err != nil {
		return domain.OrderResult{}, &domain.SubmissionError{
			Err: fmt.Errorf("polymarket/clob: decode order result: %w", err),
		}
	}
	return apiRes.toOrderResult(req.Side), nil
}

// buildSignedOrder converts the request into a signed CLOB order payload.
// Amounts are 6-decimal fixed point: a buy makes USDC for outcome tokens, a
// sell makes tokens for USDC.
func (c *ClobClient) buildSignedOrder(req domain.OrderRequest) (map[string]any, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("polymarket/clob: cannot size order at price %.4f", req.Price)
	}

	usdcUnits := int64(math.Round(req.SizeUSD * usdcScale))
	shareUnits := int64(math.Round(req.SizeUSD / req.Price * usdcScale))
	if usdcUnits <= 0 || shareUnits <= 0 {
		return nil, fmt.Errorf("polymarket/clob: order size %.4f rounds to zero units", req.SizeUSD)
	}

	makerAmount, takerAmount := usdcUnits, shareUnits
	apiSide, eip712Side := "BUY", 0
	if req.Side == domain.SideSell {
		makerAmount, takerAmount = shareUnits, usdcUnits
		apiSide, eip712Side = "SELL", 1
	}

	signerAddr := c.signer.Address().Hex()
	maker := signerAddr
	sigType := sigTypeEOA
	if c.funder != "" {
		maker = c.funder
		sigType = sigTypePolyProxy
	}

	salt, err := randomSalt()
	if err != nil {
		return nil, err
	}

	order := crypto.OrderPayload{
		Salt:          salt,
		Maker:         maker,
		Signer:        signerAddr,
		Taker:         zeroAddress,
		TokenID:       req.AssetID,
		MakerAmount:   fmt.Sprintf("%d", makerAmount),
		TakerAmount:   fmt.Sprintf("%d", takerAmount),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          eip712Side,
		SignatureType: sigType,
	}

	sig, err := c.signer.SignOrder(order)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	return map[string]any{
		"order": map[string]any{
			"salt":          order.Salt,
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
			"tokenID":       order.TokenID,
			"makerAmount":   order.MakerAmount,
			"takerAmount":   order.TakerAmount,
			"expiration":    order.Expiration,
			"nonce":         order.Nonce,
			"feeRateBps":    order.FeeRateBps,
			"side":          apiSide,
			"signatureType": order.SignatureType,
			"signature":     sig,
		},
		"owner":     c.hmacAuth.Key,
		"orderType": "FOK",
	}, nil
}

// doAuthenticated signs, sends and reads an HTTP request, classifying
// failures into transient and fatal submission errors.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, &domain.SubmissionError{Err: fmt.Errorf("polymarket/clob: marshal body: %w", err)}
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &domain.SubmissionError{Err: fmt.Errorf("polymarket/clob: create request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &domain.SubmissionError{Err: err}
		}
		return nil, &domain.SubmissionError{
			Transient: true,
			Err:       fmt.Errorf("polymarket/clob: request: %w", err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.SubmissionError{
			Transient: true,
			Err:       fmt.Errorf("polymarket/clob: read response: %w", err),
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	httpErr := fmt.Errorf("polymarket/clob: HTTP %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &domain.SubmissionError{Transient: true, Err: httpErr}
	}
	return nil, &domain.SubmissionError{Err: httpErr}
}

// randomSalt returns a random decimal uint64 for the order salt.
func randomSalt() (string, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: salt: %w", err)
	}
	return n.String(), nil
}
