package web

import (
	"encoding/json"

	"github.com/quiverfi/quiver/pkg/models"
)

// CreateWorkflowRequest is the payload for creating an automation rule.
// Trigger, condition and action configurations arrive as raw blobs and are
// decoded through the same schema-validated path repository rows take.
type CreateWorkflowRequest struct {
	OwnerID       string `json:"owner_id"       validate:"required"`
	Name          string `json:"name"           validate:"required,min=3,max=100"`
	Description   string `json:"description"    validate:"max=500"`
	WalletAddress string `json:"wallet_address" validate:"required"`

	Trigger    TriggerDefinition     `json:"trigger"    validate:"required"`
	Conditions []ConditionDefinition `json:"conditions" validate:"dive"`
	Actions    []ActionDefinition    `json:"actions"    validate:"required,min=1,dive"`
}

type TriggerDefinition struct {
	Kind   models.TriggerKind `json:"kind"  validate:"required"`
	Chain  string             `json:"chain" validate:"required"`
	Config json.RawMessage    `json:"config"`
}

type ConditionDefinition struct {
	Kind   models.ConditionKind `json:"kind" validate:"required"`
	Config json.RawMessage      `json:"config"`
}

type ActionDefinition struct {
	Kind   models.ActionKind `json:"kind" validate:"required"`
	Config json.RawMessage   `json:"config"`
}

// ToggleWorkflowRequest flips a workflow's active flag.
type ToggleWorkflowRequest struct {
	IsActive bool `json:"is_active"`
}

// CreateDepositRequest records collateral moved into custody.
type CreateDepositRequest struct {
	UserID     string  `json:"user_id"     validate:"required"`
	WorkflowID string  `json:"workflow_id"`
	Chain      string  `json:"chain"       validate:"required"`
	Token      string  `json:"token"       validate:"required"`
	Amount     float64 `json:"amount"      validate:"required,gt=0"`
	TxHash     string  `json:"tx_hash"`
}

// UpdatePreferencesRequest replaces a user's channel preferences.
type UpdatePreferencesRequest struct {
	EmailEnabled bool   `json:"email_enabled"`
	EmailAddress string `json:"email_address" validate:"omitempty,email"`
	ChatEnabled  bool   `json:"chat_enabled"`
	ChatID       string `json:"chat_id"`
	PushEnabled  bool   `json:"push_enabled"`
	PushToken    string `json:"push_token"`
}
