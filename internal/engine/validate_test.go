package engine

import (
	"strings"
	"testing"

	"formflow-backend/internal/metadata"
)

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestValidateForm_RequiredMessages(t *testing.T) {
	tpl := purchaseTemplate(t)

	res := ValidateForm(tpl, map[string]any{})
	if res.Valid {
		t.Fatal("expected invalid with required tipo missing")
	}
	if res.Errors["tipo"] != "Tipo es requerido" {
		t.Errorf("unexpected message %q", res.Errors["tipo"])
	}

	res = ValidateForm(tpl, map[string]any{"tipo": "mantenimiento"})
	if !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}
}

func TestValidateForm_DynamicRequired(t *testing.T) {
	tpl := purchaseTemplate(t)

	// motivo becomes required above the threshold
	res := ValidateForm(tpl, map[string]any{"tipo": "compra", "monto": float64(5000)})
	if res.Errors["motivo"] != "Motivo es requerido" {
		t.Errorf("expected motivo required, got %v", res.Errors)
	}

	res = ValidateForm(tpl, map[string]any{"tipo": "compra", "monto": float64(100)})
	if _, ok := res.Errors["motivo"]; ok {
		t.Error("expected motivo optional below threshold")
	}
}

func TestValidateForm_HiddenFieldNotValidated(t *testing.T) {
	tpl := purchaseTemplate(t)

	// monto is hidden for mantenimiento: a stale non-numeric value must not
	// block the submission.
	res := ValidateForm(tpl, map[string]any{
		"tipo":  "mantenimiento",
		"monto": "no soy un número",
	})
	if !res.Valid {
		t.Errorf("expected hidden field to be skipped, got %v", res.Errors)
	}

	// Visible again: now it does block
	res = ValidateForm(tpl, map[string]any{
		"tipo":  "compra",
		"monto": "no soy un número",
	})
	if res.Errors["monto"] != "Monto debe ser un número" {
		t.Errorf("unexpected message %q", res.Errors["monto"])
	}
}

func TestValidateText_Constraints(t *testing.T) {
	v := &metadata.FieldValidation{
		MinLength: intPtr(3),
		MaxLength: intPtr(5),
	}
	if msg := validateText("Código", "ab", v); msg != "Código debe tener al menos 3 caracteres" {
		t.Errorf("unexpected message %q", msg)
	}
	if msg := validateText("Código", "abcdef", v); msg != "Código debe tener como máximo 5 caracteres" {
		t.Errorf("unexpected message %q", msg)
	}
	if msg := validateText("Código", "abcd", v); msg != "" {
		t.Errorf("expected valid, got %q", msg)
	}
	// Lengths count runes, not bytes
	if msg := validateText("Código", "añí", v); msg != "" {
		t.Errorf("expected 3 runes to pass, got %q", msg)
	}
}

func TestValidateText_Pattern(t *testing.T) {
	v := &metadata.FieldValidation{Pattern: `^[A-Z]{3}-\d+$`}
	if msg := validateText("Folio", "ABC-123", v); msg != "" {
		t.Errorf("expected match, got %q", msg)
	}
	if msg := validateText("Folio", "abc", v); msg != "Folio no tiene un formato válido" {
		t.Errorf("unexpected message %q", msg)
	}

	v.PatternMessage = "Debe tener la forma AAA-999"
	if msg := validateText("Folio", "abc", v); msg != "Debe tener la forma AAA-999" {
		t.Errorf("expected custom message, got %q", msg)
	}

	// A broken regexp in the template never blocks the user
	broken := &metadata.FieldValidation{Pattern: `([`}
	if msg := validateText("Folio", "cualquier cosa", broken); msg != "" {
		t.Errorf("expected broken pattern to fail open, got %q", msg)
	}
}

func TestValidateNumber_Bounds(t *testing.T) {
	v := &metadata.FieldValidation{Min: floatPtr(10), Max: floatPtr(100)}
	if msg := validateNumber("Monto", 5, v); msg != "Monto debe ser mayor o igual a 10" {
		t.Errorf("unexpected message %q", msg)
	}
	if msg := validateNumber("Monto", 500, v); msg != "Monto debe ser menor o igual a 100" {
		t.Errorf("unexpected message %q", msg)
	}
	if msg := validateNumber("Monto", 50, v); msg != "" {
		t.Errorf("expected valid, got %q", msg)
	}
}

func TestValidateDate_Bounds(t *testing.T) {
	v := &metadata.FieldValidation{MinDate: "2026-01-01", MaxDate: "2026-12-31"}
	if msg := validateDate("Fecha", "2025-06-01", v); !strings.Contains(msg, "igual o posterior a 2026-01-01") {
		t.Errorf("unexpected message %q", msg)
	}
	if msg := validateDate("Fecha", "2027-01-01", v); !strings.Contains(msg, "igual o anterior a 2026-12-31") {
		t.Errorf("unexpected message %q", msg)
	}
	if msg := validateDate("Fecha", "2026-06-15", v); msg != "" {
		t.Errorf("expected valid, got %q", msg)
	}
}

func requiredTableTemplate(t *testing.T) *metadata.FormTemplate {
	tpl := tableTemplate(t)
	tpl.Fields[0].IsRequired = true
	return tpl
}

func TestValidateForm_TableRequiredEmpty(t *testing.T) {
	tpl := requiredTableTemplate(t)
	res := ValidateForm(tpl, map[string]any{})
	if res.Errors["items"] != "Items es requerido" {
		t.Errorf("unexpected message %q", res.Errors["items"])
	}
}

func TestValidateForm_TableRowMessages(t *testing.T) {
	tpl := tableTemplate(t)

	res := ValidateForm(tpl, map[string]any{
		"items": []any{
			map[string]any{"nombre": "tornillos", "clase": "normal"},
			map[string]any{"clase": "normal"},
		},
	})
	if res.Errors["items"] != "Items, fila 2: Nombre es requerido" {
		t.Errorf("unexpected message %q", res.Errors["items"])
	}

	// The first failing cell wins; later rows are not reported
	res = ValidateForm(tpl, map[string]any{
		"items": []any{
			map[string]any{"clase": "normal"},
			map[string]any{"clase": "normal"},
		},
	})
	if res.Errors["items"] != "Items, fila 1: Nombre es requerido" {
		t.Errorf("unexpected message %q", res.Errors["items"])
	}
}

func TestValidateForm_TableHiddenColumnSkipped(t *testing.T) {
	tpl := tableTemplate(t)
	for ci := range tpl.Fields[0].TableSchema {
		if tpl.Fields[0].TableSchema[ci].Key == "detalle" {
			tpl.Fields[0].TableSchema[ci].Required = true
		}
	}

	// detalle is hidden in normal rows, so its requiredness does not apply
	res := ValidateForm(tpl, map[string]any{
		"items": []any{map[string]any{"nombre": "a", "clase": "normal"}},
	})
	if !res.Valid {
		t.Errorf("expected hidden column skipped, got %v", res.Errors)
	}

	// Visible in an especial row: now it is enforced
	res = ValidateForm(tpl, map[string]any{
		"items": []any{map[string]any{"nombre": "a", "clase": "especial"}},
	})
	if res.Errors["items"] != "Items, fila 1: Detalle es requerido" {
		t.Errorf("unexpected message %q", res.Errors["items"])
	}
}

func TestIsEmptyValue(t *testing.T) {
	empties := []any{nil, "", []any{}, map[string]any{}}
	for _, v := range empties {
		if !isEmptyValue(v) {
			t.Errorf("%#v: expected empty", v)
		}
	}
	nonEmpties := []any{"x", float64(0), false, []any{"a"}}
	for _, v := range nonEmpties {
		if isEmptyValue(v) {
			t.Errorf("%#v: expected non-empty", v)
		}
	}
}
