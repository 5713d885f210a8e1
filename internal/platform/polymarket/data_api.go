package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DataClient queries the public Polymarket data API for account positions.
// Used for the startup system check and for monitor-mode reporting.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a DataClient. baseURL is the data API root, e.g.
// "https://data-api.polymarket.com".
func NewDataClient(baseURL string, timeout time.Duration) *DataClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DataClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Positions returns the open positions for a wallet address.
func (c *DataClient) Positions(ctx context.Context, wallet string) ([]Position, error) {
	u := c.baseURL + "/positions?user=" + url.QueryEscape(wallet)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: positions for %s: %w", wallet, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polymarket/data: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var rows []dataAPIPosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, row.toPosition())
	}
	return positions, nil
}

// Healthy reports whether the data API is reachable, used by the startup
// system check.
func (c *DataClient) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/positions?user="+zeroAddress, nil)
	if err != nil {
		return fmt.Errorf("polymarket/data: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/data: health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("polymarket/data: health check: HTTP %d", resp.StatusCode)
	}
	return nil
}
