package swap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/swap"
)

func TestHTTPProvider_CreateOrder(t *testing.T) {
	t.Parallel()

	var received swap.OrderRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"order-1","status":"PENDING","created_at":"2025-06-01T12:00:00Z"}`))
	}))
	t.Cleanup(server.Close)

	provider := swap.NewHTTPProvider(server.URL)

	order, err := provider.CreateOrder(context.Background(), swap.OrderRequest{
		CorrelationID: "exec-1:action-1",
		FromToken:     "ETH",
		ToToken:       "USDC",
		Amount:        1.5,
		FromChain:     "ethereum",
		ToChain:       "base",
		Receiver:      "0xabc",
		Deadline:      time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, swap.OrderStatusPending, order.Status)

	assert.Equal(t, "exec-1:action-1", received.CorrelationID)
	assert.Equal(t, "ETH", received.FromToken)
	assert.Equal(t, "base", received.ToChain)
}

func TestHTTPProvider_CreateOrderRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)

	provider := swap.NewHTTPProvider(server.URL)

	_, err := provider.CreateOrder(context.Background(), swap.OrderRequest{CorrelationID: "exec-1:action-1"})
	require.ErrorIs(t, err, swap.ErrOrderRejected)
}

func TestHTTPProvider_CreateOrderServerFailureIsNotARejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	provider := swap.NewHTTPProvider(server.URL)

	_, err := provider.CreateOrder(context.Background(), swap.OrderRequest{CorrelationID: "exec-1:action-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, swap.ErrOrderRejected)
}

func TestHTTPProvider_GetOrderStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/orders/order-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"order-1","status":"COMPLETED"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	provider := swap.NewHTTPProvider(server.URL)

	order, err := provider.GetOrderStatus(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, swap.OrderStatusCompleted, order.Status)

	_, err = provider.GetOrderStatus(context.Background(), "missing")
	require.ErrorIs(t, err, swap.ErrOrderNotFound)
}
