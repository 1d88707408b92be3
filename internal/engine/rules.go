package engine

import (
	"fmt"
	"strconv"
	"strings"

	"formflow-backend/internal/metadata"
)

// This file is the rule evaluation engine: pure, synchronous functions that
// answer whether a field (or table column, per row) is visible, dynamically
// required, or has its options overridden, given the current form values.
// Evaluation never fails loudly — malformed rules degrade to the permissive
// default so a broken template cannot hide a field or block submission.

// ShouldShow reports whether a field is visible under the given context.
// Fields with no show-rules are always visible; otherwise any true show-rule
// makes the field visible.
func ShouldShow(rules []metadata.FieldRule, ctx map[string]any) bool {
	return shouldShowForColumn(rules, ctx, "")
}

// IsDynamicallyRequired reports whether any required-rule holds. The caller
// combines this with the field's static is_required flag.
func IsDynamicallyRequired(rules []metadata.FieldRule, ctx map[string]any) bool {
	return isRequiredForColumn(rules, ctx, "")
}

// ResolveOptions returns the option override for the field itself, or nil if
// no options-rule matches (the caller falls back to the static options).
// Among several matching rules, the first one in declared order that
// evaluates true wins.
func ResolveOptions(rules []metadata.FieldRule, ctx map[string]any) []string {
	return resolveOptionsForColumn(rules, ctx, "")
}

// Column-scoped variants. The row's values are layered over the top-level
// form values, so sibling columns shadow same-keyed form fields.

func ShouldShowInRow(rules []metadata.FieldRule, formValues, rowValues map[string]any, columnKey string) bool {
	return shouldShowForColumn(rules, RowContext(formValues, rowValues), columnKey)
}

func IsRequiredInRow(rules []metadata.FieldRule, formValues, rowValues map[string]any, columnKey string) bool {
	return isRequiredForColumn(rules, RowContext(formValues, rowValues), columnKey)
}

func ResolveOptionsInRow(rules []metadata.FieldRule, formValues, rowValues map[string]any, columnKey string) []string {
	return resolveOptionsForColumn(rules, RowContext(formValues, rowValues), columnKey)
}

// RowContext merges row values over form values.
func RowContext(formValues, rowValues map[string]any) map[string]any {
	merged := make(map[string]any, len(formValues)+len(rowValues))
	for k, v := range formValues {
		merged[k] = v
	}
	for k, v := range rowValues {
		merged[k] = v
	}
	return merged
}

func shouldShowForColumn(rules []metadata.FieldRule, ctx map[string]any, columnKey string) bool {
	found := false
	for i := range rules {
		r := &rules[i]
		if r.Effect != metadata.EffectShow || r.TargetColumnKey != columnKey {
			continue
		}
		found = true
		if EvaluateRule(r, ctx) {
			return true
		}
	}
	return !found
}

func isRequiredForColumn(rules []metadata.FieldRule, ctx map[string]any, columnKey string) bool {
	for i := range rules {
		r := &rules[i]
		if r.Effect != metadata.EffectRequired || r.TargetColumnKey != columnKey {
			continue
		}
		if EvaluateRule(r, ctx) {
			return true
		}
	}
	return false
}

func resolveOptionsForColumn(rules []metadata.FieldRule, ctx map[string]any, columnKey string) []string {
	for i := range rules {
		r := &rules[i]
		if r.Effect != metadata.EffectOptions || r.TargetColumnKey != columnKey {
			continue
		}
		if EvaluateRule(r, ctx) {
			return r.OptionValues
		}
	}
	return nil
}

// EvaluateRule evaluates a single rule's truth value. A non-empty expression
// takes precedence over the structured conditions. A rule with no conditions
// is unconditionally true.
func EvaluateRule(rule *metadata.FieldRule, ctx map[string]any) bool {
	if rule.Expression != "" {
		return EvaluateExpression(rule.Expression, ctx)
	}
	if len(rule.Conditions) == 0 {
		return true
	}
	if rule.Logic == metadata.LogicOr {
		for _, c := range rule.Conditions {
			if EvaluateCondition(c, ctx) {
				return true
			}
		}
		return false
	}
	// "and" is the default
	for _, c := range rule.Conditions {
		if !EvaluateCondition(c, ctx) {
			return false
		}
	}
	return true
}

// EvaluateCondition evaluates one comparison against the context.
// equals/not_equals use loose, string-coerced equality ("1" equals 1);
// contains does case-insensitive substring matching; greater_than/less_than
// coerce both sides to number and are false when either side is not numeric.
// Unknown operators evaluate true (fail-open).
func EvaluateCondition(cond metadata.FieldCondition, ctx map[string]any) bool {
	actual := ctx[cond.FieldKey]

	switch cond.Operator {
	case metadata.OpEquals:
		return stringify(actual) == stringify(cond.Value)
	case metadata.OpNotEquals:
		return stringify(actual) != stringify(cond.Value)
	case metadata.OpContains:
		return strings.Contains(
			strings.ToLower(stringify(actual)),
			strings.ToLower(stringify(cond.Value)),
		)
	case metadata.OpGreaterThan:
		a, aok := toNumber(actual)
		b, bok := toNumber(cond.Value)
		return aok && bok && a > b
	case metadata.OpLessThan:
		a, aok := toNumber(actual)
		b, bok := toNumber(cond.Value)
		return aok && bok && a < b
	}

	// Unknown operator: fail open rather than silently hiding a field.
	return true
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// toNumber coerces numeric types and numeric strings to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case nil:
		return 0, false
	}
	f, err := strconv.ParseFloat(stringify(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
