package vault_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/mocks"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
	"github.com/quiverfi/quiver/pkg/persistence/memory"
	"github.com/quiverfi/quiver/pkg/testutil"
	"github.com/quiverfi/quiver/pkg/vault"
)

func newTestLedger(t *testing.T, balances *mocks.MockPriceAccessor) (*vault.Ledger, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return vault.NewLedger(store, balances, logger), store
}

func TestLedger_SufficientBalance(t *testing.T) {
	t.Parallel()

	balances := new(mocks.MockPriceAccessor)
	balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").Return(2.0, nil)

	ledger, _ := newTestLedger(t, balances)

	sufficient, balance, err := ledger.SufficientBalance(context.Background(), "user-1", "0xabc", "ETH", "ethereum", 1.5)
	require.NoError(t, err)
	assert.True(t, sufficient)
	assert.InEpsilon(t, 2.0, balance, 0.001)

	sufficient, _, err = ledger.SufficientBalance(context.Background(), "user-1", "0xabc", "ETH", "ethereum", 2.5)
	require.NoError(t, err)
	assert.False(t, sufficient)
}

func TestLedger_SufficientBalanceFailsClosed(t *testing.T) {
	t.Parallel()

	balances := new(mocks.MockPriceAccessor)
	balances.On("GetBalance", mock.Anything, "0xabc", "ETH", "ethereum").
		Return(0.0, errors.New("rpc timeout"))

	ledger, _ := newTestLedger(t, balances)

	sufficient, _, err := ledger.SufficientBalance(context.Background(), "user-1", "0xabc", "ETH", "ethereum", 1.0)
	require.ErrorIs(t, err, vault.ErrBalanceUnavailable)
	assert.False(t, sufficient)
}

func TestLedger_Reserve(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, new(mocks.MockPriceAccessor))
	ctx := context.Background()

	require.NoError(t, store.SaveDeposit(ctx, testutil.TestDeposit("user-1", "ethereum", "ETH", 100)))

	reservation, err := ledger.Reserve(ctx, vault.ReserveRequest{
		UserID:        "user-1",
		Chain:         "ethereum",
		Token:         "ETH",
		Amount:        40,
		CorrelationID: "order-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "order-1", reservation.CorrelationID)
	assert.InEpsilon(t, 40.0, reservation.Amount, 0.001)
	assert.NotEmpty(t, reservation.ID)
}

func TestLedger_ReserveIsIdempotentPerCorrelationID(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, new(mocks.MockPriceAccessor))
	ctx := context.Background()

	require.NoError(t, store.SaveDeposit(ctx, testutil.TestDeposit("user-1", "ethereum", "ETH", 100)))

	request := vault.ReserveRequest{
		UserID:        "user-1",
		Chain:         "ethereum",
		Token:         "ETH",
		Amount:        60,
		CorrelationID: "order-1",
	}

	first, err := ledger.Reserve(ctx, request)
	require.NoError(t, err)

	// The second invocation must return the existing hold, not stack a new
	// one: 60 + 60 would exceed the 100 deposited.
	second, err := ledger.Reserve(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	reservations, err := store.ReservationsByUser(ctx, "user-1", "ethereum", "ETH")
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.InEpsilon(t, 60.0, reservations[0].Amount, 0.001)
}

func TestLedger_ReserveRefusesOverReservation(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, new(mocks.MockPriceAccessor))
	ctx := context.Background()

	require.NoError(t, store.SaveDeposit(ctx, testutil.TestDeposit("user-1", "ethereum", "ETH", 50)))

	_, err := ledger.Reserve(ctx, vault.ReserveRequest{
		UserID:        "user-1",
		Chain:         "ethereum",
		Token:         "ETH",
		Amount:        100,
		CorrelationID: "order-1",
	})
	require.ErrorIs(t, err, vault.ErrInsufficientCollateral)

	reservations, err := store.ReservationsByUser(ctx, "user-1", "ethereum", "ETH")
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestLedger_ReserveHoldsInvariantUnderConcurrency(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, new(mocks.MockPriceAccessor))
	ctx := context.Background()

	require.NoError(t, store.SaveDeposit(ctx, testutil.TestDeposit("user-1", "ethereum", "ETH", 100)))

	// 20 goroutines each ask for 10 against 100 deposited. At most ten
	// may win; reserved never exceeds deposited.
	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = ledger.Reserve(ctx, vault.ReserveRequest{
				UserID:        "user-1",
				Chain:         "ethereum",
				Token:         "ETH",
				Amount:        10,
				CorrelationID: fmt.Sprintf("order-%d", i),
			})
		}()
	}

	wg.Wait()

	reservations, err := store.ReservationsByUser(ctx, "user-1", "ethereum", "ETH")
	require.NoError(t, err)

	var reserved float64
	for _, reservation := range reservations {
		reserved += reservation.Amount
	}

	assert.LessOrEqual(t, reserved, 100.0)
	assert.Len(t, reservations, 10)
}

// refusingCollateralStore simulates the store-side collateral check losing
// to a writer in another process: the insert is refused even though the
// local read said the collateral was free.
type refusingCollateralStore struct {
	persistence.CollateralRepository
}

func (s *refusingCollateralStore) SaveReservation(_ context.Context, _ *models.CollateralReservation) error {
	return persistence.ErrCollateralExceeded
}

func TestLedger_ReserveRefusedByStoreIsInsufficientCollateral(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.SaveDeposit(ctx, testutil.TestDeposit("user-1", "ethereum", "ETH", 100)))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ledger := vault.NewLedger(&refusingCollateralStore{CollateralRepository: store}, new(mocks.MockPriceAccessor), logger)

	_, err := ledger.Reserve(ctx, vault.ReserveRequest{
		UserID:        "user-1",
		Chain:         "ethereum",
		Token:         "ETH",
		Amount:        40,
		CorrelationID: "order-1",
	})
	require.ErrorIs(t, err, vault.ErrInsufficientCollateral)
	assert.ErrorIs(t, err, persistence.ErrCollateralExceeded)
}

func TestLedger_ReserveValidatesRequest(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, new(mocks.MockPriceAccessor))
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, vault.ReserveRequest{
		UserID: "user-1", Chain: "ethereum", Token: "ETH", Amount: 0, CorrelationID: "order-1",
	})
	require.Error(t, err)

	_, err = ledger.Reserve(ctx, vault.ReserveRequest{
		UserID: "user-1", Chain: "ethereum", Token: "ETH", Amount: 10,
	})
	require.Error(t, err)
}

func TestLedger_ReserveSpansMultipleDeposits(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, new(mocks.MockPriceAccessor))
	ctx := context.Background()

	require.NoError(t, store.SaveDeposit(ctx, testutil.TestDeposit("user-1", "ethereum", "ETH", 30)))
	require.NoError(t, store.SaveDeposit(ctx, testutil.TestDeposit("user-1", "ethereum", "ETH", 30)))

	_, err := ledger.Reserve(ctx, vault.ReserveRequest{
		UserID:        "user-1",
		Chain:         "ethereum",
		Token:         "ETH",
		Amount:        50,
		CorrelationID: "order-1",
	})
	require.NoError(t, err)

	deposits, err := store.DepositsByUser(ctx, "user-1", "ethereum", "ETH")
	require.NoError(t, err)

	for _, deposit := range deposits {
		assert.True(t, deposit.Locked)
	}
}
