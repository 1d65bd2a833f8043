package conditions_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/conditions"
	"github.com/quiverfi/quiver/pkg/mocks"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/testutil"
)

func newTestGate(balances *mocks.MockPriceAccessor) *conditions.Gate {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return conditions.NewGate(balances, logger)
}

// openWindow always contains the current hour; closedWindow never does.
func openWindow() *models.Condition {
	hour := time.Now().UTC().Hour()

	return testutil.TimeWindowCondition(hour, (hour+1)%24)
}

func closedWindow() *models.Condition {
	hour := time.Now().UTC().Hour()

	return testutil.TimeWindowCondition((hour+1)%24, (hour+2)%24)
}

func TestGate_EmptyConditionListPasses(t *testing.T) {
	t.Parallel()

	balances := new(mocks.MockPriceAccessor)
	gate := newTestGate(balances)

	passed, err := gate.Evaluate(context.Background(), "0xabc", nil)
	require.NoError(t, err)
	assert.True(t, passed)

	balances.AssertNotCalled(t, "GetBalance")
}

func TestGate_MinBalance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		balance float64
		minimum float64
		want    bool
	}{
		{name: "balance above minimum", balance: 2.0, minimum: 0.5, want: true},
		{name: "balance equals minimum", balance: 0.5, minimum: 0.5, want: true},
		{name: "balance below minimum", balance: 0.1, minimum: 0.5, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			balances := new(mocks.MockPriceAccessor)
			balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(tt.balance, nil)

			gate := newTestGate(balances)

			passed, err := gate.Evaluate(context.Background(), "0xabc",
				[]*models.Condition{testutil.MinBalanceCondition("ETH", tt.minimum)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, passed)
		})
	}
}

func TestGate_TimeWindow(t *testing.T) {
	t.Parallel()

	gate := newTestGate(new(mocks.MockPriceAccessor))

	passed, err := gate.Evaluate(context.Background(), "0xabc", []*models.Condition{openWindow()})
	require.NoError(t, err)
	assert.True(t, passed)

	passed, err = gate.Evaluate(context.Background(), "0xabc", []*models.Condition{closedWindow()})
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestGate_AllConditionsMustHold(t *testing.T) {
	t.Parallel()

	balances := new(mocks.MockPriceAccessor)
	balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(2.0, nil)

	gate := newTestGate(balances)

	// Both hold.
	passed, err := gate.Evaluate(context.Background(), "0xabc",
		[]*models.Condition{testutil.MinBalanceCondition("ETH", 0.5), openWindow()})
	require.NoError(t, err)
	assert.True(t, passed)

	// One refuses, the whole gate refuses.
	passed, err = gate.Evaluate(context.Background(), "0xabc",
		[]*models.Condition{testutil.MinBalanceCondition("ETH", 0.5), closedWindow()})
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestGate_ShortCircuitsOnFirstRefusal(t *testing.T) {
	t.Parallel()

	balances := new(mocks.MockPriceAccessor)
	gate := newTestGate(balances)

	passed, err := gate.Evaluate(context.Background(), "0xabc",
		[]*models.Condition{closedWindow(), testutil.MinBalanceCondition("ETH", 0.5)})
	require.NoError(t, err)
	assert.False(t, passed)

	balances.AssertNotCalled(t, "GetBalance")
}

func TestGate_BalanceLookupFailurePropagates(t *testing.T) {
	t.Parallel()

	balances := new(mocks.MockPriceAccessor)
	balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").
		Return(0.0, errors.New("rpc unavailable"))

	gate := newTestGate(balances)

	_, err := gate.Evaluate(context.Background(), "0xabc",
		[]*models.Condition{testutil.MinBalanceCondition("ETH", 0.5)})
	require.Error(t, err)
}

func TestGate_MissingConfigurationRefuses(t *testing.T) {
	t.Parallel()

	gate := newTestGate(new(mocks.MockPriceAccessor))

	condition := &models.Condition{ID: "condition-1", Kind: models.ConditionKindMinBalance}

	passed, err := gate.Evaluate(context.Background(), "0xabc", []*models.Condition{condition})
	require.NoError(t, err)
	assert.False(t, passed)
}
