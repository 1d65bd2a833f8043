package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConditionKind is the closed set of supported gating predicates.
type ConditionKind string

const (
	ConditionKindMinBalance ConditionKind = "MIN_BALANCE"
	ConditionKindTimeWindow ConditionKind = "TIME_WINDOW"
)

var ErrUnknownConditionKind = errors.New("unknown condition kind")

// Condition is an additional must-hold predicate gating execution after a
// trigger fires. All conditions of a workflow are ANDed; the empty set is
// vacuously true.
type Condition struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflow_id"`
	Kind       ConditionKind `json:"kind" validate:"required"`

	MinBalance *MinBalanceConfig `json:"min_balance,omitempty"`
	TimeWindow *TimeWindowConfig `json:"time_window,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MinBalanceConfig holds when the wallet keeps at least Minimum of Token.
type MinBalanceConfig struct {
	Chain   string  `json:"chain"   validate:"required"`
	Token   string  `json:"token"   validate:"required"`
	Minimum float64 `json:"minimum" validate:"required"`
}

// TimeWindowConfig holds when the current UTC hour falls inside
// [StartHour, EndHour). Windows may wrap midnight (start 22, end 6).
type TimeWindowConfig struct {
	StartHour int `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int `json:"end_hour"   validate:"min=0,max=23"`
}

// Contains reports whether the instant falls inside the window.
func (c *TimeWindowConfig) Contains(at time.Time) bool {
	hour := at.UTC().Hour()

	if c.StartHour <= c.EndHour {
		return hour >= c.StartHour && hour < c.EndHour
	}

	return hour >= c.StartHour || hour < c.EndHour
}

// DecodeCondition builds a Condition from a stored row, rejecting unknown
// kinds and schema-invalid blobs at the load boundary.
func DecodeCondition(id, workflowID string, kind ConditionKind, config json.RawMessage) (*Condition, error) {
	condition := &Condition{
		ID:         id,
		WorkflowID: workflowID,
		Kind:       kind,
	}

	if err := validateConfigSchema(conditionSchemas[kind], config); err != nil {
		if errors.Is(err, errNoSchema) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownConditionKind, kind)
		}

		return nil, fmt.Errorf("condition %s configuration invalid: %w", id, err)
	}

	switch kind {
	case ConditionKindMinBalance:
		condition.MinBalance = &MinBalanceConfig{}

		return condition, json.Unmarshal(config, condition.MinBalance)
	case ConditionKindTimeWindow:
		condition.TimeWindow = &TimeWindowConfig{}

		return condition, json.Unmarshal(config, condition.TimeWindow)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionKind, kind)
	}
}

// EncodeConfig serializes the active typed config back into blob form.
func (c *Condition) EncodeConfig() (json.RawMessage, error) {
	switch c.Kind {
	case ConditionKindMinBalance:
		return json.Marshal(c.MinBalance)
	case ConditionKindTimeWindow:
		return json.Marshal(c.TimeWindow)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConditionKind, c.Kind)
	}
}
