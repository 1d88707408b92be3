package engine

import (
	"encoding/json"
	"testing"

	"formflow-backend/internal/metadata"
)

func mustRules(t *testing.T, rules []metadata.FieldRule) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(rules)
	if err != nil {
		t.Fatalf("marshal rules: %v", err)
	}
	return data
}

// purchaseTemplate models a purchase request form: the amount only shows
// for purchases, a justification becomes required above a threshold, and
// the category options narrow by type.
func purchaseTemplate(t *testing.T) *metadata.FormTemplate {
	return &metadata.FormTemplate{
		ID:   "tpl-1",
		Name: "Solicitud de compra",
		Sections: []metadata.FormSection{
			{ID: "sec-gen", Title: "General", SectionOrder: 1},
			{ID: "sec-det", Title: "Detalle", SectionOrder: 2},
		},
		Fields: []metadata.FieldSchema{
			{
				FieldKey: "tipo", Label: "Tipo", FieldType: metadata.FieldSelect,
				IsRequired: true, FieldOrder: 1, SectionID: "sec-gen",
				Options: []string{"compra", "mantenimiento"},
			},
			{
				FieldKey: "monto", Label: "Monto", FieldType: metadata.FieldNumber,
				FieldOrder: 2, SectionID: "sec-det",
				Dependency: mustRules(t, []metadata.FieldRule{{
					Effect: metadata.EffectShow,
					Conditions: []metadata.FieldCondition{
						{FieldKey: "tipo", Operator: metadata.OpEquals, Value: "compra"},
					},
				}}),
			},
			{
				FieldKey: "motivo", Label: "Motivo", FieldType: metadata.FieldText,
				FieldOrder: 3, SectionID: "sec-det",
				Dependency: mustRules(t, []metadata.FieldRule{{
					Effect: metadata.EffectRequired,
					Conditions: []metadata.FieldCondition{
						{FieldKey: "monto", Operator: metadata.OpGreaterThan, Value: float64(1000)},
					},
				}}),
			},
			{
				FieldKey: "categoria", Label: "Categoría", FieldType: metadata.FieldSelect,
				FieldOrder: 4, SectionID: "sec-det",
				Options: []string{"general"},
				Dependency: mustRules(t, []metadata.FieldRule{{
					Effect:       metadata.EffectOptions,
					OptionValues: []string{"equipo", "insumo"},
					Conditions: []metadata.FieldCondition{
						{FieldKey: "tipo", Operator: metadata.OpEquals, Value: "compra"},
					},
				}}),
			},
		},
		Active: true,
	}
}

func TestEvaluateForm_VisibilityAndRequired(t *testing.T) {
	tpl := purchaseTemplate(t)

	state := EvaluateForm(tpl, map[string]any{"tipo": "mantenimiento"})
	if monto := state.Get("monto"); monto == nil || monto.Visible {
		t.Error("expected monto hidden for mantenimiento")
	}

	state = EvaluateForm(tpl, map[string]any{"tipo": "compra", "monto": float64(500)})
	monto := state.Get("monto")
	if monto == nil || !monto.Visible {
		t.Fatal("expected monto visible for compra")
	}
	if motivo := state.Get("motivo"); motivo.Required {
		t.Error("expected motivo optional at monto=500")
	}

	state = EvaluateForm(tpl, map[string]any{"tipo": "compra", "monto": float64(5000)})
	if motivo := state.Get("motivo"); !motivo.Required {
		t.Error("expected motivo required at monto=5000")
	}
}

func TestEvaluateForm_OptionsOverride(t *testing.T) {
	tpl := purchaseTemplate(t)

	state := EvaluateForm(tpl, map[string]any{"tipo": "compra"})
	cat := state.Get("categoria")
	if len(cat.Options) != 2 || cat.Options[0] != "equipo" {
		t.Errorf("expected overridden options, got %v", cat.Options)
	}

	// Rule false: static options stay
	state = EvaluateForm(tpl, map[string]any{"tipo": "mantenimiento"})
	cat = state.Get("categoria")
	if len(cat.Options) != 1 || cat.Options[0] != "general" {
		t.Errorf("expected static options, got %v", cat.Options)
	}
}

func TestEvaluateForm_Sections(t *testing.T) {
	tpl := purchaseTemplate(t)

	// For mantenimiento only the required-rule and options fields stay
	// visible in sec-det (motivo, categoria) — section remains visible.
	state := EvaluateForm(tpl, map[string]any{"tipo": "mantenimiento"})
	if len(state.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(state.Sections))
	}
	if !state.Sections[0].Visible || !state.Sections[1].Visible {
		t.Error("expected both sections visible")
	}

	// Hide every field of sec-det: section must not render
	hideAll := purchaseTemplate(t)
	dep := mustRules(t, []metadata.FieldRule{{
		Effect: metadata.EffectShow,
		Conditions: []metadata.FieldCondition{
			{FieldKey: "tipo", Operator: metadata.OpEquals, Value: "nunca"},
		},
	}})
	for i := range hideAll.Fields {
		if hideAll.Fields[i].SectionID == "sec-det" {
			hideAll.Fields[i].Dependency = dep
		}
	}
	state = EvaluateForm(hideAll, map[string]any{"tipo": "compra"})
	for _, sec := range state.Sections {
		if sec.ID == "sec-det" && sec.Visible {
			t.Error("expected section with no visible fields to be hidden")
		}
	}
}

func TestEvaluateForm_Unsectioned(t *testing.T) {
	tpl := &metadata.FormTemplate{
		Fields: []metadata.FieldSchema{
			{FieldKey: "suelto", Label: "Suelto", FieldType: metadata.FieldText, FieldOrder: 1},
		},
	}
	state := EvaluateForm(tpl, nil)
	if len(state.Unsectioned) != 1 || state.Unsectioned[0] != "suelto" {
		t.Errorf("expected unsectioned field, got %v", state.Unsectioned)
	}
}

func tableTemplate(t *testing.T) *metadata.FormTemplate {
	return &metadata.FormTemplate{
		ID: "tpl-tab", Name: "Con tabla",
		Fields: []metadata.FieldSchema{
			{
				FieldKey: "items", Label: "Items", FieldType: metadata.FieldTable, FieldOrder: 1,
				TableSchema: []metadata.TableColumnSchema{
					{Key: "nombre", Label: "Nombre", Type: metadata.FieldText, Required: true},
					{
						Key: "detalle", Label: "Detalle", Type: metadata.FieldText,
						Rules: []metadata.FieldRule{{
							Effect: metadata.EffectShow,
							Conditions: []metadata.FieldCondition{
								{FieldKey: "clase", Operator: metadata.OpEquals, Value: "especial"},
							},
						}},
					},
					{Key: "clase", Label: "Clase", Type: metadata.FieldSelect, Options: []string{"normal", "especial"}},
				},
			},
		},
	}
}

func TestEvaluateForm_TablePerRow(t *testing.T) {
	tpl := tableTemplate(t)
	values := map[string]any{
		"items": []any{
			map[string]any{"nombre": "a", "clase": "normal"},
			map[string]any{"nombre": "b", "clase": "especial"},
		},
	}

	state := EvaluateForm(tpl, values)
	table := state.Get("items").Table
	if table == nil || len(table.Rows) != 2 {
		t.Fatal("expected 2 evaluated rows")
	}

	if table.Rows[0].Columns["detalle"].Visible {
		t.Error("expected detalle hidden in normal row")
	}
	if !table.Rows[1].Columns["detalle"].Visible {
		t.Error("expected detalle visible in especial row")
	}

	// Header: detalle visible in at least one row, so it renders
	if !containsString(table.HeaderColumns, "detalle") {
		t.Errorf("expected detalle header, got %v", table.HeaderColumns)
	}
}

func TestEvaluateForm_TableHeaderHiddenEverywhere(t *testing.T) {
	tpl := tableTemplate(t)
	values := map[string]any{
		"items": []any{
			map[string]any{"nombre": "a", "clase": "normal"},
		},
	}
	table := EvaluateForm(tpl, values).Get("items").Table
	if containsString(table.HeaderColumns, "detalle") {
		t.Errorf("expected detalle header dropped, got %v", table.HeaderColumns)
	}
	if !containsString(table.HeaderColumns, "nombre") {
		t.Error("expected unruled column header to stay")
	}
}

func TestEvaluateForm_TableZeroRowsShowsAllHeaders(t *testing.T) {
	tpl := tableTemplate(t)
	table := EvaluateForm(tpl, map[string]any{}).Get("items").Table
	if len(table.HeaderColumns) != 3 {
		t.Errorf("expected all headers with zero rows, got %v", table.HeaderColumns)
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
