package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Configuration blobs are validated against these schemas before they are
// unmarshaled into typed configs, so malformed rows fail at the repository
// boundary with a message naming the offending field.

var errNoSchema = errors.New("no schema registered for kind")

var operatorEnum = []any{
	string(OperatorGreaterThan),
	string(OperatorLessThan),
	string(OperatorEquals),
}

var triggerSchemas = map[TriggerKind]map[string]any{
	TriggerKindPriceThreshold: {
		"type": "object",
		"properties": map[string]any{
			"token":            map[string]any{"type": "string", "minLength": 1},
			"operator":         map[string]any{"type": "string", "enum": operatorEnum},
			"threshold":        map[string]any{"type": "number"},
			"cooldown_seconds": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"token", "operator", "threshold"},
	},
	TriggerKindTimeBased: {
		"type": "object",
		"properties": map[string]any{
			"granularity": map[string]any{
				"type": "string",
				"enum": []any{string(ScheduleDaily), string(ScheduleWeekly)},
			},
			"cooldown_seconds": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"granularity"},
	},
	TriggerKindBalanceChange: {
		"type": "object",
		"properties": map[string]any{
			"token": map[string]any{"type": "string", "minLength": 1},
			"operator": map[string]any{
				"type": "string",
				"enum": []any{string(OperatorGreaterThan), string(OperatorLessThan)},
			},
			"threshold":        map[string]any{"type": "number"},
			"cooldown_seconds": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"token", "operator", "threshold"},
	},
	TriggerKindMarketCondition: {
		"type": "object",
		"properties": map[string]any{
			"indicator":        map[string]any{"type": "string"},
			"cooldown_seconds": map[string]any{"type": "integer", "minimum": 0},
		},
	},
}

var conditionSchemas = map[ConditionKind]map[string]any{
	ConditionKindMinBalance: {
		"type": "object",
		"properties": map[string]any{
			"chain":   map[string]any{"type": "string", "minLength": 1},
			"token":   map[string]any{"type": "string", "minLength": 1},
			"minimum": map[string]any{"type": "number"},
		},
		"required": []string{"chain", "token", "minimum"},
	},
	ConditionKindTimeWindow: {
		"type": "object",
		"properties": map[string]any{
			"start_hour": map[string]any{"type": "integer", "minimum": 0, "maximum": 23},
			"end_hour":   map[string]any{"type": "integer", "minimum": 0, "maximum": 23},
		},
		"required": []string{"start_hour", "end_hour"},
	},
}

var actionSchemas = map[ActionKind]map[string]any{
	ActionKindSwap: {
		"type": "object",
		"properties": map[string]any{
			"from_token":       map[string]any{"type": "string", "minLength": 1},
			"to_token":         map[string]any{"type": "string", "minLength": 1},
			"amount":           map[string]any{"type": "number", "exclusiveMinimum": 0},
			"chain_id":         map[string]any{"type": "string"},
			"from_chain":       map[string]any{"type": "string"},
			"to_chain":         map[string]any{"type": "string"},
			"receiver":         map[string]any{"type": "string"},
			"deadline_seconds": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"from_token", "to_token", "amount"},
	},
}

func validateConfigSchema(schema map[string]any, config json.RawMessage) error {
	if schema == nil {
		return errNoSchema
	}

	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewBytesLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return errors.New(strings.Join(details, "; "))
	}

	return nil
}
