// Package swap talks to the external swap-routing service that quotes and
// places cross-chain token swaps.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrOrderNotFound = errors.New("swap order not found")

	// ErrOrderRejected marks a 4xx response: the routing service understood
	// the order and refused it, so retrying the same request cannot help.
	ErrOrderRejected = errors.New("swap order rejected")
)

// OrderStatus is the routing service's view of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusExecuting OrderStatus = "EXECUTING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// OrderRequest describes the swap to place.
type OrderRequest struct {
	CorrelationID string    `json:"correlation_id"`
	FromToken     string    `json:"from_token"`
	ToToken       string    `json:"to_token"`
	Amount        float64   `json:"amount"`
	FromChain     string    `json:"from_chain"`
	ToChain       string    `json:"to_chain"`
	Receiver      string    `json:"receiver"`
	Deadline      time.Time `json:"deadline"`
}

// Order is the routing service's acknowledgement.
type Order struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Provider places swap orders and reads their status.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (*Order, error)
}

// HTTPProvider is the production Provider backed by the routing service's
// REST API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *HTTPProvider) CreateOrder(ctx context.Context, orderReq OrderRequest) (*Order, error) {
	body, err := json.Marshal(orderReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d", ErrOrderRejected, resp.StatusCode)
	default:
		return nil, fmt.Errorf("order request failed with status %d", resp.StatusCode)
	}

	order := &Order{}
	if err := json.NewDecoder(resp.Body).Decode(order); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	return order, nil
}

func (p *HTTPProvider) GetOrderStatus(ctx context.Context, orderID string) (*Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order status request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	order := &Order{}
	if err := json.NewDecoder(resp.Body).Decode(order); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	return order, nil
}
