package metadata

import (
	"bytes"
	"encoding/json"
	"log"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

// Rule effects.
const (
	EffectShow     = "show"
	EffectRequired = "required"
	EffectOptions  = "options"
)

// Logic connectors for multi-condition rules.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// FieldCondition is a single comparison against the form value context.
type FieldCondition struct {
	FieldKey string `json:"fieldKey"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// FieldRule attaches an effect (show, required, options) to a set of
// conditions. If Expression is non-empty it takes precedence over
// Conditions/Logic for truth evaluation. A rule with a TargetColumnKey
// applies to that column of a table field instead of the field itself.
type FieldRule struct {
	ID              string           `json:"id,omitempty"`
	Conditions      []FieldCondition `json:"conditions,omitempty"`
	Logic           string           `json:"logic,omitempty"` // "and" (default) or "or"
	Effect          string           `json:"effect"`
	OptionValues    []string         `json:"optionValues,omitempty"`
	TargetColumnKey string           `json:"targetColumnKey,omitempty"`
	Expression      string           `json:"expression,omitempty"`
}

// LegacyFieldDependency is the single-condition shape used before rules
// became multi-condition arrays. It is never evaluated directly; NormalizeRules
// wraps it into a one-rule FieldRule list.
type LegacyFieldDependency struct {
	FieldKey string `json:"fieldKey"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Effect   string `json:"effect,omitempty"` // show (default) or required
}

// NormalizeRules converts any stored dependency shape into a FieldRule list.
// null or absent input means "always visible, never dynamically required"
// and yields an empty list. Malformed input degrades the same way, with a
// warning, so a broken template can never hide the whole form.
func NormalizeRules(raw json.RawMessage) []FieldRule {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}

	trimmed := bytes.TrimSpace(raw)

	if trimmed[0] == '[' {
		var rules []FieldRule
		if err := json.Unmarshal(trimmed, &rules); err != nil {
			log.Printf("WARN: invalid rule array in dependency, treating as no rules: %v", err)
			return nil
		}
		return rules
	}

	var legacy LegacyFieldDependency
	if err := json.Unmarshal(trimmed, &legacy); err != nil || legacy.FieldKey == "" {
		log.Printf("WARN: unrecognized dependency shape, treating as no rules")
		return nil
	}

	effect := legacy.Effect
	if effect == "" {
		effect = EffectShow
	}

	return []FieldRule{{
		Conditions: []FieldCondition{{
			FieldKey: legacy.FieldKey,
			Operator: legacy.Operator,
			Value:    legacy.Value,
		}},
		Logic:  LogicAnd,
		Effect: effect,
	}}
}
