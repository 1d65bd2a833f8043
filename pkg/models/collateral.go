package models

import "time"

// Deposit records collateral moved into custody for a workflow. Rows are
// append-only; Locked distinguishes collateral pledged to an open
// reservation from freely available collateral.
type Deposit struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Chain      string    `json:"chain"`
	Token      string    `json:"token"`
	Amount     float64   `json:"amount"`
	Locked     bool      `json:"locked"`
	TxHash     string    `json:"tx_hash,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReservationStatus tracks the lifecycle of a collateral hold. Settlement
// follows the swap provider's own order lifecycle and is out of this
// engine's scope, so RESERVED is the only status written here.
type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "RESERVED"
)

// CollateralReservation is a hold placed on collateral, correlated to a
// specific in-flight order. Exactly one reservation exists per correlation
// id regardless of how many times Reserve is invoked for it.
type CollateralReservation struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Chain         string            `json:"chain"`
	Token         string            `json:"token"`
	Amount        float64           `json:"amount"`
	CorrelationID string            `json:"correlation_id"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}
