package engine

import (
	"testing"

	"formflow-backend/internal/metadata"
)

func showRule(conds ...metadata.FieldCondition) metadata.FieldRule {
	return metadata.FieldRule{Effect: metadata.EffectShow, Logic: metadata.LogicAnd, Conditions: conds}
}

func cond(field, op string, value any) metadata.FieldCondition {
	return metadata.FieldCondition{FieldKey: field, Operator: op, Value: value}
}

func TestEvaluateCondition_Equals(t *testing.T) {
	ctx := map[string]any{"tipo": "mantenimiento", "cantidad": float64(1)}

	if !EvaluateCondition(cond("tipo", metadata.OpEquals, "mantenimiento"), ctx) {
		t.Error("expected equals to match")
	}
	if EvaluateCondition(cond("tipo", metadata.OpEquals, "compra"), ctx) {
		t.Error("expected equals to fail for different value")
	}
	// Loose coercion: number 1 equals string "1"
	if !EvaluateCondition(cond("cantidad", metadata.OpEquals, "1"), ctx) {
		t.Error("expected 1 == \"1\" under loose equality")
	}
	// Missing field stringifies to ""
	if !EvaluateCondition(cond("ausente", metadata.OpEquals, ""), ctx) {
		t.Error("expected missing field to equal empty string")
	}
}

func TestEvaluateCondition_NotEquals(t *testing.T) {
	ctx := map[string]any{"tipo": "compra"}
	if !EvaluateCondition(cond("tipo", metadata.OpNotEquals, "mantenimiento"), ctx) {
		t.Error("expected not_equals to hold")
	}
	if EvaluateCondition(cond("tipo", metadata.OpNotEquals, "compra"), ctx) {
		t.Error("expected not_equals to fail for same value")
	}
}

func TestEvaluateCondition_Contains(t *testing.T) {
	ctx := map[string]any{"descripcion": "Reparación URGENTE del equipo"}
	if !EvaluateCondition(cond("descripcion", metadata.OpContains, "urgente"), ctx) {
		t.Error("expected contains to be case-insensitive")
	}
	if EvaluateCondition(cond("descripcion", metadata.OpContains, "preventivo"), ctx) {
		t.Error("expected contains to fail for absent substring")
	}
}

func TestEvaluateCondition_Numeric(t *testing.T) {
	ctx := map[string]any{"monto": float64(5000), "texto": "abc"}

	if !EvaluateCondition(cond("monto", metadata.OpGreaterThan, float64(1000)), ctx) {
		t.Error("expected 5000 > 1000")
	}
	if EvaluateCondition(cond("monto", metadata.OpLessThan, float64(1000)), ctx) {
		t.Error("expected 5000 < 1000 to be false")
	}
	// Numeric strings coerce
	if !EvaluateCondition(cond("monto", metadata.OpGreaterThan, "4999"), ctx) {
		t.Error("expected string threshold to coerce")
	}
	// Non-numeric operand makes the comparison false, not an error
	if EvaluateCondition(cond("texto", metadata.OpGreaterThan, float64(1)), ctx) {
		t.Error("expected non-numeric > to be false")
	}
	if EvaluateCondition(cond("ausente", metadata.OpLessThan, float64(1)), ctx) {
		t.Error("expected missing field numeric comparison to be false")
	}
}

func TestEvaluateCondition_UnknownOperatorFailsOpen(t *testing.T) {
	if !EvaluateCondition(cond("x", "matches_regex", "y"), map[string]any{}) {
		t.Error("expected unknown operator to evaluate true")
	}
}

func TestEvaluateRule_Logic(t *testing.T) {
	ctx := map[string]any{"tipo": "compra", "monto": float64(100)}

	and := metadata.FieldRule{
		Logic: metadata.LogicAnd,
		Conditions: []metadata.FieldCondition{
			cond("tipo", metadata.OpEquals, "compra"),
			cond("monto", metadata.OpGreaterThan, float64(50)),
		},
	}
	if !EvaluateRule(&and, ctx) {
		t.Error("expected AND rule to hold")
	}

	and.Conditions[1] = cond("monto", metadata.OpGreaterThan, float64(500))
	if EvaluateRule(&and, ctx) {
		t.Error("expected AND rule to fail when one condition fails")
	}

	or := metadata.FieldRule{
		Logic: metadata.LogicOr,
		Conditions: []metadata.FieldCondition{
			cond("tipo", metadata.OpEquals, "mantenimiento"),
			cond("monto", metadata.OpGreaterThan, float64(50)),
		},
	}
	if !EvaluateRule(&or, ctx) {
		t.Error("expected OR rule to hold with one true condition")
	}
}

func TestEvaluateRule_EmptyConditionsIsTrue(t *testing.T) {
	rule := metadata.FieldRule{Effect: metadata.EffectShow}
	if !EvaluateRule(&rule, map[string]any{}) {
		t.Error("expected rule with no conditions to be true")
	}
}

func TestEvaluateRule_ExpressionTakesPrecedence(t *testing.T) {
	rule := metadata.FieldRule{
		Expression: `tipo == "compra"`,
		// Contradictory structured conditions must be ignored
		Conditions: []metadata.FieldCondition{cond("tipo", metadata.OpEquals, "mantenimiento")},
	}
	if !EvaluateRule(&rule, map[string]any{"tipo": "compra"}) {
		t.Error("expected expression to win over structured conditions")
	}
}

func TestShouldShow(t *testing.T) {
	rules := []metadata.FieldRule{
		showRule(cond("tipo", metadata.OpEquals, "compra")),
		showRule(cond("tipo", metadata.OpEquals, "mantenimiento")),
	}

	if !ShouldShow(rules, map[string]any{"tipo": "compra"}) {
		t.Error("expected visible when first show-rule matches")
	}
	if !ShouldShow(rules, map[string]any{"tipo": "mantenimiento"}) {
		t.Error("expected visible when any show-rule matches")
	}
	if ShouldShow(rules, map[string]any{"tipo": "otro"}) {
		t.Error("expected hidden when no show-rule matches")
	}
	// No show-rules at all: always visible
	if !ShouldShow(nil, map[string]any{}) {
		t.Error("expected visible with no rules")
	}
	required := []metadata.FieldRule{{Effect: metadata.EffectRequired,
		Conditions: []metadata.FieldCondition{cond("x", metadata.OpEquals, "y")}}}
	if !ShouldShow(required, map[string]any{}) {
		t.Error("expected visible when only non-show rules exist")
	}
}

func TestIsDynamicallyRequired(t *testing.T) {
	rules := []metadata.FieldRule{{
		Effect:     metadata.EffectRequired,
		Conditions: []metadata.FieldCondition{cond("monto", metadata.OpGreaterThan, float64(1000))},
	}}

	if !IsDynamicallyRequired(rules, map[string]any{"monto": float64(2000)}) {
		t.Error("expected required above threshold")
	}
	if IsDynamicallyRequired(rules, map[string]any{"monto": float64(500)}) {
		t.Error("expected not required below threshold")
	}
	if IsDynamicallyRequired(nil, map[string]any{}) {
		t.Error("expected not required with no rules")
	}
}

func TestResolveOptions_FirstTrueWins(t *testing.T) {
	rules := []metadata.FieldRule{
		{
			Effect:       metadata.EffectOptions,
			Conditions:   []metadata.FieldCondition{cond("tipo", metadata.OpEquals, "compra")},
			OptionValues: []string{"equipo", "insumo"},
		},
		{
			Effect:       metadata.EffectOptions,
			OptionValues: []string{"otro"},
		},
	}

	opts := ResolveOptions(rules, map[string]any{"tipo": "compra"})
	if len(opts) != 2 || opts[0] != "equipo" {
		t.Errorf("expected first matching rule's options, got %v", opts)
	}

	// First rule false: unconditional second rule wins
	opts = ResolveOptions(rules, map[string]any{"tipo": "x"})
	if len(opts) != 1 || opts[0] != "otro" {
		t.Errorf("expected fallback options, got %v", opts)
	}

	if ResolveOptions(nil, map[string]any{}) != nil {
		t.Error("expected nil when no options rule matches")
	}
}

func TestRowContext_RowShadowsForm(t *testing.T) {
	merged := RowContext(
		map[string]any{"tipo": "compra", "monto": float64(10)},
		map[string]any{"tipo": "fila"},
	)
	if merged["tipo"] != "fila" {
		t.Errorf("expected row value to shadow form value, got %v", merged["tipo"])
	}
	if merged["monto"] != float64(10) {
		t.Error("expected form values to pass through")
	}
}

func TestColumnScopedRules(t *testing.T) {
	colRules := []metadata.FieldRule{{
		Effect:          metadata.EffectShow,
		TargetColumnKey: "detalle",
		Conditions:      []metadata.FieldCondition{cond("clase", metadata.OpEquals, "especial")},
	}}

	form := map[string]any{}
	row := map[string]any{"clase": "especial"}
	if !ShouldShowInRow(colRules, form, row, "detalle") {
		t.Error("expected column visible when row condition holds")
	}
	if ShouldShowInRow(colRules, form, map[string]any{"clase": "normal"}, "detalle") {
		t.Error("expected column hidden when row condition fails")
	}
	// Rules targeting a different column do not gate this one
	if !ShouldShowInRow(colRules, form, row, "otra") {
		t.Error("expected unrelated column to stay visible")
	}
}
