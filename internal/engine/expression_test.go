package engine

import (
	"testing"

	"formflow-backend/internal/metadata"
)

func TestEvaluateExpression_Comparisons(t *testing.T) {
	ctx := map[string]any{
		"tipo":   "compra",
		"monto":  float64(5000),
		"activo": true,
		"nota":   "Revisión urgente",
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`tipo == "compra"`, true},
		{`tipo == 'compra'`, true},
		{`tipo != "compra"`, false},
		{`monto > 1000`, true},
		{`monto < 1000`, false},
		{`monto > "4999"`, true},
		{`activo == true`, true},
		{`activo == false`, false},
		{`contains(nota, "urgente")`, true},
		{`contains(nota, "URGENTE")`, true},
		{`contains(nota, "preventivo")`, false},
		{`ausente == ""`, true},
	}

	for _, tc := range cases {
		if got := EvaluateExpression(tc.expr, ctx); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluateExpression_LeftToRight(t *testing.T) {
	// AND and OR share one precedence level, strictly left to right:
	// a OR b AND c  ==  (a OR b) AND c
	ctx := map[string]any{"a": "1", "b": "0", "c": "0"}

	got := EvaluateExpression(`a == "1" OR b == "1" AND c == "1"`, ctx)
	if got {
		t.Error(`expected (true OR false) AND false == false; AND-over-OR precedence would give true`)
	}

	// Parentheses restore the other grouping
	if !EvaluateExpression(`a == "1" OR (b == "1" AND c == "1")`, ctx) {
		t.Error("expected explicit parentheses to group the AND")
	}
}

func TestEvaluateExpression_LogicSpellings(t *testing.T) {
	ctx := map[string]any{"a": "1", "b": "2"}
	for _, expr := range []string{
		`a == "1" AND b == "2"`,
		`a == "1" and b == "2"`,
		`a == "1" && b == "2"`,
		`a == "1" OR b == "9"`,
		`a == "1" or b == "9"`,
		`a == "1" || b == "9"`,
	} {
		if !EvaluateExpression(expr, ctx) {
			t.Errorf("%s: expected true", expr)
		}
	}
}

func TestEvaluateExpression_MalformedFailsOpen(t *testing.T) {
	for _, expr := range []string{
		``,
		`tipo ==`,
		`== "compra"`,
		`tipo = "compra"`,
		`(tipo == "compra"`,
		`tipo == "compra" extra`,
		`contains(tipo)`,
	} {
		if !EvaluateExpression(expr, map[string]any{"tipo": "otro"}) {
			t.Errorf("%q: malformed expression must fail open to true", expr)
		}
	}
}

func TestParseExpression_Errors(t *testing.T) {
	for _, expr := range []string{``, `tipo ==`, `tipo == "a" AND`, `%%%`} {
		if _, err := ParseExpression(expr); err == nil {
			t.Errorf("%q: expected parse error", expr)
		}
	}
	if _, err := ParseExpression(`tipo == "a" AND monto > 5`); err != nil {
		t.Errorf("unexpected parse error: %v", err)
	}
}

func TestBuildExpression(t *testing.T) {
	conds := []metadata.FieldCondition{
		{FieldKey: "tipo", Operator: metadata.OpEquals, Value: "compra"},
		{FieldKey: "monto", Operator: metadata.OpGreaterThan, Value: float64(1000)},
		{FieldKey: "nota", Operator: metadata.OpContains, Value: "urgente"},
	}

	got := BuildExpression(conds, metadata.LogicAnd)
	want := `tipo == "compra" AND monto > 1000 AND contains(nota, "urgente")`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = BuildExpression(conds[:2], metadata.LogicOr)
	want = `tipo == "compra" OR monto > 1000`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if BuildExpression(nil, metadata.LogicAnd) != "" {
		t.Error("expected empty expression for no conditions")
	}
}

func TestBuildExpression_RoundTrip(t *testing.T) {
	conds := []metadata.FieldCondition{
		{FieldKey: "tipo", Operator: metadata.OpEquals, Value: "compra"},
		{FieldKey: "monto", Operator: metadata.OpLessThan, Value: float64(100)},
	}
	text := BuildExpression(conds, metadata.LogicAnd)

	node, err := ParseExpression(text)
	if err != nil {
		t.Fatalf("serialized expression did not parse: %v", err)
	}

	ctx := map[string]any{"tipo": "compra", "monto": float64(50)}
	if !node.eval(ctx) {
		t.Error("expected round-tripped expression to evaluate true")
	}
	ctx["monto"] = float64(500)
	if node.eval(ctx) {
		t.Error("expected round-tripped expression to evaluate false")
	}
}

func TestTokenize_Strings(t *testing.T) {
	tokens, err := tokenize(`nombre == "va\"lor con espacios"`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	if tokens[2].kind != tokString {
		t.Errorf("expected string token, got kind %d", tokens[2].kind)
	}
	if unquote(tokens[2].text) != `va"lor con espacios` {
		t.Errorf("unexpected unquoted value %q", unquote(tokens[2].text))
	}
}
