// Package vault tracks custodied collateral: how much each user has
// deposited per asset versus how much is reserved for in-flight orders.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
	"github.com/quiverfi/quiver/pkg/prices"
)

var (
	// ErrInsufficientCollateral is a business failure: the reservation
	// would push reserved above deposited.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrBalanceUnavailable is a transient failure: the authoritative
	// balance source could not be read. Sufficiency is never assumed.
	ErrBalanceUnavailable = errors.New("balance source unavailable")
)

// ReserveRequest asks for a hold on collateral backing one order.
type ReserveRequest struct {
	UserID        string
	Chain         string
	Token         string
	Amount        float64
	CorrelationID string
}

// Ledger is the writer-of-record for reservation state. All mutation goes
// through Reserve, which serializes per (user, chain, token) so concurrent
// reservations for different assets never block each other.
type Ledger struct {
	collateral persistence.CollateralRepository
	balances   prices.Accessor
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(collateral persistence.CollateralRepository, balances prices.Accessor, logger *slog.Logger) *Ledger {
	return &Ledger{
		collateral: collateral,
		balances:   balances,
		logger:     logger.With("module", "vault"),
		locks:      make(map[string]*sync.Mutex),
	}
}

// SufficientBalance reports whether the user's on-chain balance covers the
// amount. A balance-source failure fails closed: it is surfaced as a
// transient error for the job layer to retry, never treated as sufficient.
func (l *Ledger) SufficientBalance(ctx context.Context, userID, wallet, token, chain string, amount float64) (bool, float64, error) {
	balance, err := l.balances.GetBalance(ctx, wallet, token, chain)
	if err != nil {
		l.logger.ErrorContext(ctx, "balance source failed, refusing sufficiency",
			"user_id", userID, "token", token, "chain", chain, "error", err)

		return false, 0, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err)
	}

	return balance >= amount, balance, nil
}

// Reserve places a hold on deposited collateral for the given correlation
// id. It is idempotent: re-invoking with the same correlation id returns
// the existing reservation without double-counting. The invariant
// reserved <= deposited holds after every call.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (*models.CollateralReservation, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("reservation amount must be positive, got %f", req.Amount)
	}

	if req.CorrelationID == "" {
		return nil, errors.New("reservation requires a correlation id")
	}

	lock := l.assetLock(req.UserID, req.Chain, req.Token)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.collateral.ReservationByCorrelationID(ctx, req.CorrelationID)
	if err == nil {
		return existing, nil
	}

	if !errors.Is(err, persistence.ErrReservationNotFound) {
		return nil, fmt.Errorf("failed to look up reservation: %w", err)
	}

	deposited, lockable, err := l.availableDeposits(ctx, req)
	if err != nil {
		return nil, err
	}

	reserved, err := l.reservedTotal(ctx, req)
	if err != nil {
		return nil, err
	}

	if reserved+req.Amount > deposited {
		l.logger.WarnContext(ctx, "reservation refused",
			"user_id", req.UserID, "token", req.Token, "chain", req.Chain,
			"requested", req.Amount, "deposited", deposited, "reserved", reserved)

		return nil, fmt.Errorf("%w: requested %f, deposited %f, already reserved %f",
			ErrInsufficientCollateral, req.Amount, deposited, reserved)
	}

	reservation := &models.CollateralReservation{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Chain:         req.Chain,
		Token:         req.Token,
		Amount:        req.Amount,
		CorrelationID: req.CorrelationID,
		Status:        models.ReservationStatusReserved,
		CreatedAt:     time.Now().UTC(),
	}

	err = l.collateral.SaveReservation(ctx, reservation)
	if errors.Is(err, persistence.ErrDuplicateReservation) {
		// Lost the race on this correlation id; the winner's row is the
		// reservation of record.
		return l.collateral.ReservationByCorrelationID(ctx, req.CorrelationID)
	}

	if errors.Is(err, persistence.ErrCollateralExceeded) {
		// Another process reserved the collateral between our read and the
		// store's atomic check. The in-process lock only covers this
		// replica; the store's verdict is final.
		l.logger.WarnContext(ctx, "reservation refused by store",
			"user_id", req.UserID, "token", req.Token, "chain", req.Chain,
			"requested", req.Amount, "error", err)

		return nil, fmt.Errorf("%w: %w", ErrInsufficientCollateral, err)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}

	if err := l.lockDeposits(ctx, lockable, req.Amount); err != nil {
		l.logger.WarnContext(ctx, "failed to lock deposits after reservation",
			"correlation_id", req.CorrelationID, "error", err)
	}

	return reservation, nil
}

// availableDeposits returns the user's total deposited amount for the asset
// plus the unlocked deposit rows, oldest first, eligible for locking.
func (l *Ledger) availableDeposits(ctx context.Context, req ReserveRequest) (float64, []*models.Deposit, error) {
	deposits, err := l.collateral.DepositsByUser(ctx, req.UserID, req.Chain, req.Token)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load deposits: %w", err)
	}

	var total float64

	lockable := make([]*models.Deposit, 0, len(deposits))

	for _, deposit := range deposits {
		total += deposit.Amount

		if !deposit.Locked {
			lockable = append(lockable, deposit)
		}
	}

	return total, lockable, nil
}

func (l *Ledger) reservedTotal(ctx context.Context, req ReserveRequest) (float64, error) {
	reservations, err := l.collateral.ReservationsByUser(ctx, req.UserID, req.Chain, req.Token)
	if err != nil {
		return 0, fmt.Errorf("failed to load reservations: %w", err)
	}

	var total float64

	for _, reservation := range reservations {
		total += reservation.Amount
	}

	return total, nil
}

// lockDeposits greedily marks unlocked deposits as pledged until they cover
// the reserved amount.
func (l *Ledger) lockDeposits(ctx context.Context, lockable []*models.Deposit, amount float64) error {
	var covered float64

	ids := make([]string, 0, len(lockable))

	for _, deposit := range lockable {
		if covered >= amount {
			break
		}

		covered += deposit.Amount

		ids = append(ids, deposit.ID)
	}

	if len(ids) == 0 {
		return nil
	}

	return l.collateral.LockDeposits(ctx, ids)
}

func (l *Ledger) assetLock(userID, chain, token string) *sync.Mutex {
	key := userID + "/" + chain + "/" + token

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}

	return lock
}
