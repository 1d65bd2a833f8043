package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TriggerKind is the closed set of supported trigger families. Unknown
// kinds are rejected when the configuration blob is decoded at the
// repository-load boundary, never at evaluation time.
type TriggerKind string

const (
	TriggerKindPriceThreshold  TriggerKind = "PRICE_THRESHOLD"
	TriggerKindTimeBased       TriggerKind = "TIME_BASED"
	TriggerKindBalanceChange   TriggerKind = "BALANCE_CHANGE"
	TriggerKindMarketCondition TriggerKind = "MARKET_CONDITION"
)

var ErrUnknownTriggerKind = errors.New("unknown trigger kind")

// ComparisonOperator compares an observed value against a threshold.
type ComparisonOperator string

const (
	OperatorGreaterThan ComparisonOperator = "GREATER_THAN"
	OperatorLessThan    ComparisonOperator = "LESS_THAN"
	OperatorEquals      ComparisonOperator = "EQUALS"
)

// ScheduleGranularity is the minimum interval between time-based firings.
type ScheduleGranularity string

const (
	ScheduleDaily  ScheduleGranularity = "DAILY"
	ScheduleWeekly ScheduleGranularity = "WEEKLY"
)

// Interval returns the minimum elapsed time the granularity demands.
func (g ScheduleGranularity) Interval() (time.Duration, error) {
	switch g {
	case ScheduleDaily:
		return 24 * time.Hour, nil
	case ScheduleWeekly:
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown schedule granularity: %q", g)
	}
}

// Trigger belongs to exactly one workflow and is immutable after creation.
// Exactly one of the typed config fields is set, matching Kind.
type Trigger struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflow_id"`
	Kind       TriggerKind `json:"kind"  validate:"required"`
	Chain      string      `json:"chain" validate:"required"`

	PriceThreshold  *PriceThresholdConfig  `json:"price_threshold,omitempty"`
	TimeBased       *TimeBasedConfig       `json:"time_based,omitempty"`
	BalanceChange   *BalanceChangeConfig   `json:"balance_change,omitempty"`
	MarketCondition *MarketConditionConfig `json:"market_condition,omitempty"`

	// CooldownSeconds suppresses repeat firings while the predicate stays
	// true across consecutive scheduler passes. Zero means the engine
	// default applies.
	CooldownSeconds int `json:"cooldown_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PriceThresholdConfig fires when a token price crosses a threshold.
type PriceThresholdConfig struct {
	Token     string             `json:"token"     validate:"required"`
	Operator  ComparisonOperator `json:"operator"  validate:"required"`
	Threshold float64            `json:"threshold" validate:"required"`
}

// TimeBasedConfig fires when enough time elapsed since the last execution.
type TimeBasedConfig struct {
	Granularity ScheduleGranularity `json:"granularity" validate:"required"`
}

// BalanceChangeConfig fires when a wallet balance crosses a threshold.
type BalanceChangeConfig struct {
	Token     string             `json:"token"     validate:"required"`
	Operator  ComparisonOperator `json:"operator"  validate:"required"`
	Threshold float64            `json:"threshold" validate:"required"`
}

// MarketConditionConfig is a reserved extension point. Triggers of this
// kind never fire but are accepted so stored rules survive upgrades.
type MarketConditionConfig struct {
	Indicator string `json:"indicator,omitempty"`
}

// Cooldown returns the effective cool-down for this trigger.
func (t *Trigger) Cooldown(engineDefault time.Duration) time.Duration {
	if t.CooldownSeconds > 0 {
		return time.Duration(t.CooldownSeconds) * time.Second
	}

	// TIME_BASED triggers already rate-limit through last_executed_at.
	if t.Kind == TriggerKindTimeBased {
		return 0
	}

	return engineDefault
}

// DecodeTrigger builds a Trigger from a stored row: the kind tag plus the
// raw configuration blob. The blob is schema-validated before unmarshaling
// so a malformed row fails loudly at load time.
func DecodeTrigger(id, workflowID, chain string, kind TriggerKind, config json.RawMessage) (*Trigger, error) {
	trigger := &Trigger{
		ID:         id,
		WorkflowID: workflowID,
		Kind:       kind,
		Chain:      chain,
	}

	if err := validateConfigSchema(triggerSchemas[kind], config); err != nil {
		if errors.Is(err, errNoSchema) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerKind, kind)
		}

		return nil, fmt.Errorf("trigger %s configuration invalid: %w", id, err)
	}

	var meta struct {
		CooldownSeconds int `json:"cooldown_seconds"`
	}
	if err := json.Unmarshal(config, &meta); err != nil {
		return nil, fmt.Errorf("trigger %s configuration invalid: %w", id, err)
	}

	trigger.CooldownSeconds = meta.CooldownSeconds

	switch kind {
	case TriggerKindPriceThreshold:
		trigger.PriceThreshold = &PriceThresholdConfig{}

		return trigger, json.Unmarshal(config, trigger.PriceThreshold)
	case TriggerKindTimeBased:
		trigger.TimeBased = &TimeBasedConfig{}

		return trigger, json.Unmarshal(config, trigger.TimeBased)
	case TriggerKindBalanceChange:
		trigger.BalanceChange = &BalanceChangeConfig{}

		return trigger, json.Unmarshal(config, trigger.BalanceChange)
	case TriggerKindMarketCondition:
		trigger.MarketCondition = &MarketConditionConfig{}

		return trigger, json.Unmarshal(config, trigger.MarketCondition)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerKind, kind)
	}
}

// EncodeConfig serializes the active typed config back into the blob form
// stored by the repository.
func (t *Trigger) EncodeConfig() (json.RawMessage, error) {
	var payload any

	switch t.Kind {
	case TriggerKindPriceThreshold:
		payload = configWithCooldown{t.PriceThreshold, t.CooldownSeconds}
	case TriggerKindTimeBased:
		payload = configWithCooldown{t.TimeBased, t.CooldownSeconds}
	case TriggerKindBalanceChange:
		payload = configWithCooldown{t.BalanceChange, t.CooldownSeconds}
	case TriggerKindMarketCondition:
		payload = configWithCooldown{t.MarketCondition, t.CooldownSeconds}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerKind, t.Kind)
	}

	return json.Marshal(payload)
}

type configWithCooldown struct {
	Config          any `json:"-"`
	CooldownSeconds int `json:"cooldown_seconds,omitempty"`
}

func (c configWithCooldown) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(c.Config)
	if err != nil {
		return nil, err
	}

	if c.CooldownSeconds == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}

	merged["cooldown_seconds"] = c.CooldownSeconds

	return json.Marshal(merged)
}
