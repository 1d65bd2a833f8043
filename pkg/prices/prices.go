// Package prices provides market price and wallet balance lookups used
// by trigger evaluation and collateral checks.
package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrPriceUnavailable = errors.New("price unavailable")

// Accessor reads current market prices and on-chain balances.
type Accessor interface {
	GetPrice(ctx context.Context, token, chain string) (float64, error)
	GetBalance(ctx context.Context, wallet, token, chain string) (float64, error)
}

// HTTPAccessor fetches prices and balances from a market-data service.
type HTTPAccessor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAccessor(baseURL string) *HTTPAccessor {
	return &HTTPAccessor{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type priceResponse struct {
	Token string  `json:"token"`
	Chain string  `json:"chain"`
	Price float64 `json:"price"`
}

type balanceResponse struct {
	Wallet  string  `json:"wallet"`
	Token   string  `json:"token"`
	Chain   string  `json:"chain"`
	Balance float64 `json:"balance"`
}

func (a *HTTPAccessor) GetPrice(ctx context.Context, token, chain string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v1/prices?token=%s&chain=%s",
		a.baseURL, url.QueryEscape(token), url.QueryEscape(chain))

	var response priceResponse
	if err := a.getJSON(ctx, endpoint, &response); err != nil {
		return 0, fmt.Errorf("%w: %s on %s: %w", ErrPriceUnavailable, token, chain, err)
	}

	return response.Price, nil
}

func (a *HTTPAccessor) GetBalance(ctx context.Context, wallet, token, chain string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v1/balances?wallet=%s&token=%s&chain=%s",
		a.baseURL, url.QueryEscape(wallet), url.QueryEscape(token), url.QueryEscape(chain))

	var response balanceResponse
	if err := a.getJSON(ctx, endpoint, &response); err != nil {
		return 0, fmt.Errorf("failed to fetch balance for %s on %s: %w", token, chain, err)
	}

	return response.Balance, nil
}

func (a *HTTPAccessor) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
