package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ActionKind is the closed set of supported action families. The current
// scope has a single kind; the list stays closed so the executor can match
// exhaustively.
type ActionKind string

const (
	// ActionKindSwap covers both same-chain and cross-chain token swaps.
	ActionKindSwap ActionKind = "SWAP"
)

var ErrUnknownActionKind = errors.New("unknown action kind")

// Action is the effect performed when a rule fires. Actions of a workflow
// run strictly in sequence; Position orders them.
type Action struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Kind       ActionKind `json:"kind" validate:"required"`
	Position   int        `json:"position"`

	Swap *SwapConfig `json:"swap,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SwapConfig describes a token swap routed through the external provider.
// Either FromChain/ToChain are set explicitly, or ChainID alone names a
// same-chain swap.
type SwapConfig struct {
	FromToken       string  `json:"from_token" validate:"required"`
	ToToken         string  `json:"to_token"   validate:"required"`
	Amount          float64 `json:"amount"     validate:"required,gt=0"`
	ChainID         string  `json:"chain_id,omitempty"`
	FromChain       string  `json:"from_chain,omitempty"`
	ToChain         string  `json:"to_chain,omitempty"`
	Receiver        string  `json:"receiver,omitempty"`
	DeadlineSeconds int     `json:"deadline_seconds,omitempty"`
}

// EffectiveChains resolves the source and destination chain of the swap.
func (c *SwapConfig) EffectiveChains() (src, dst string, err error) {
	switch {
	case c.FromChain != "" && c.ToChain != "":
		return c.FromChain, c.ToChain, nil
	case c.ChainID != "":
		return c.ChainID, c.ChainID, nil
	default:
		return "", "", errors.New("swap config names neither from/to chains nor a chain id")
	}
}

// Deadline returns the absolute order deadline, defaulting to one hour.
func (c *SwapConfig) Deadline(now time.Time) time.Time {
	if c.DeadlineSeconds > 0 {
		return now.Add(time.Duration(c.DeadlineSeconds) * time.Second)
	}

	return now.Add(time.Hour)
}

// DecodeAction builds an Action from a stored row, rejecting unknown kinds
// and schema-invalid blobs at the load boundary.
func DecodeAction(id, workflowID string, kind ActionKind, position int, config json.RawMessage) (*Action, error) {
	action := &Action{
		ID:         id,
		WorkflowID: workflowID,
		Kind:       kind,
		Position:   position,
	}

	if err := validateConfigSchema(actionSchemas[kind], config); err != nil {
		if errors.Is(err, errNoSchema) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, kind)
		}

		return nil, fmt.Errorf("action %s configuration invalid: %w", id, err)
	}

	switch kind {
	case ActionKindSwap:
		action.Swap = &SwapConfig{}

		return action, json.Unmarshal(config, action.Swap)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, kind)
	}
}

// EncodeConfig serializes the active typed config back into blob form.
func (a *Action) EncodeConfig() (json.RawMessage, error) {
	switch a.Kind {
	case ActionKindSwap:
		return json.Marshal(a.Swap)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, a.Kind)
	}
}
