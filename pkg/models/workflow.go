// Package models defines the core domain models for on-chain rule automation.
package models

import "time"

// Workflow is a user-defined automation rule: exactly one trigger, zero or
// more gating conditions and an ordered action list.
type Workflow struct {
	ID            string       `json:"id"`
	OwnerID       string       `json:"owner_id"       validate:"required"`
	Name          string       `json:"name"           validate:"required,min=3"`
	Description   string       `json:"description"`
	WalletAddress string       `json:"wallet_address" validate:"required"`
	IsActive      bool         `json:"is_active"`
	Trigger       *Trigger     `json:"trigger"        validate:"required"`
	Conditions    []*Condition `json:"conditions"`
	Actions       []*Action    `json:"actions"        validate:"required,min=1"`

	// LastFiredAt is the cool-down marker shared by every trigger kind. It
	// is written when the scheduler enqueues an execution request, not when
	// the execution completes.
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`

	// LastExecutedAt is written when an execution reaches a terminal status
	// and drives the TIME_BASED schedule granularity.
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// InCooldown reports whether the workflow fired recently enough that the
// scheduler must skip it this pass. A zero cooldown disables the check.
func (w *Workflow) InCooldown(now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 || w.LastFiredAt == nil {
		return false
	}

	return now.Sub(*w.LastFiredAt) < cooldown
}
