package prices_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/mocks"
	"github.com/quiverfi/quiver/pkg/persistence/memory"
	"github.com/quiverfi/quiver/pkg/prices"
	"github.com/quiverfi/quiver/pkg/testutil"
)

func TestHTTPAccessor_GetPrice(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices", r.URL.Path)
		assert.Equal(t, "ETH", r.URL.Query().Get("token"))
		assert.Equal(t, "ethereum", r.URL.Query().Get("chain"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"ETH","chain":"ethereum","price":3123.45}`))
	}))
	t.Cleanup(server.Close)

	accessor := prices.NewHTTPAccessor(server.URL)

	price, err := accessor.GetPrice(context.Background(), "ETH", "ethereum")
	require.NoError(t, err)
	assert.InEpsilon(t, 3123.45, price, 0.001)
}

func TestHTTPAccessor_GetPriceUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	accessor := prices.NewHTTPAccessor(server.URL)

	_, err := accessor.GetPrice(context.Background(), "ETH", "ethereum")
	require.ErrorIs(t, err, prices.ErrPriceUnavailable)
}

func TestHTTPAccessor_GetBalance(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balances", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("wallet"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"wallet":"0xabc","token":"ETH","chain":"ethereum","balance":2.5}`))
	}))
	t.Cleanup(server.Close)

	accessor := prices.NewHTTPAccessor(server.URL)

	balance, err := accessor.GetBalance(context.Background(), "0xabc", "ETH", "ethereum")
	require.NoError(t, err)
	assert.InEpsilon(t, 2.5, balance, 0.001)
}

func TestRefresher_DeduplicatesPairs(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	// Three active rules watch the same pair; one watches another.
	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow()))
	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow()))
	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow()))

	other := testutil.CreateTestWorkflow()
	other.Trigger.PriceThreshold.Token = "WBTC"
	require.NoError(t, store.SaveWorkflow(ctx, other))

	accessor := new(mocks.MockPriceAccessor)
	accessor.On("GetPrice", mock.Anything, "ETH", "ethereum").Return(3100.0, nil)
	accessor.On("GetPrice", mock.Anything, "WBTC", "ethereum").Return(65000.0, nil)

	refresher := newTestRefresher(store, accessor)

	require.NoError(t, refresher.Refresh(ctx))

	accessor.AssertNumberOfCalls(t, "GetPrice", 2)
}

func TestRefresher_SkipsNonPriceTriggersAndInactiveRules(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow(testutil.Inactive())))
	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow(testutil.WithTimeTrigger("DAILY"))))

	accessor := new(mocks.MockPriceAccessor)
	refresher := newTestRefresher(store, accessor)

	require.NoError(t, refresher.Refresh(ctx))

	accessor.AssertNotCalled(t, "GetPrice")
}

func TestRefresher_PairFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflow(ctx, testutil.CreateTestWorkflow()))

	broken := testutil.CreateTestWorkflow()
	broken.Trigger.PriceThreshold.Token = "BROKEN"
	require.NoError(t, store.SaveWorkflow(ctx, broken))

	accessor := new(mocks.MockPriceAccessor)
	accessor.On("GetPrice", mock.Anything, "ETH", "ethereum").Return(3100.0, nil)
	accessor.On("GetPrice", mock.Anything, "BROKEN", "ethereum").
		Return(0.0, errors.New("no such token"))

	refresher := newTestRefresher(store, accessor)

	// The broken pair does not fail the pass.
	require.NoError(t, refresher.Refresh(ctx))

	accessor.AssertNumberOfCalls(t, "GetPrice", 2)
}

func newTestRefresher(store *memory.Persistence, accessor *mocks.MockPriceAccessor) *prices.Refresher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return prices.NewRefresher(store, accessor, logger)
}
