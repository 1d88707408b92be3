package engine

import (
	"fmt"
	"log"
	"regexp"
	"unicode/utf8"

	"formflow-backend/internal/metadata"
)

// ValidationResult is the single source of truth gating submit actions.
// Errors is keyed by field_key; one slot per field, the first error wins.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
}

// ValidateForm validates the values against the template. Only currently
// visible fields participate: a hidden field contributes no errors even if
// it holds a stale invalid value (its stored value is preserved, not
// validated, until a rule makes it visible again).
func ValidateForm(t *metadata.FormTemplate, values map[string]any) ValidationResult {
	if values == nil {
		values = map[string]any{}
	}

	state := EvaluateForm(t, values)
	errors := make(map[string]string)

	for i := range state.Fields {
		fs := &state.Fields[i]
		if !fs.Visible {
			continue
		}
		field := t.GetField(fs.Key)
		if field == nil {
			continue
		}

		if field.FieldType == metadata.FieldTable {
			if msg := validateTableField(field, fs, values); msg != "" {
				errors[fs.Key] = msg
			}
			continue
		}

		value := values[fs.Key]
		if isEmptyValue(value) {
			if fs.Required {
				errors[fs.Key] = fmt.Sprintf("%s es requerido", field.Label)
			}
			continue
		}

		if msg := validateTypedValue(field.FieldType, field.Label, value, field.Validation); msg != "" {
			errors[fs.Key] = msg
		}
	}

	return ValidationResult{Valid: len(errors) == 0, Errors: errors}
}

func validateTableField(field *metadata.FieldSchema, fs *FieldState, values map[string]any) string {
	rows := tableRows(values[field.FieldKey])

	if len(rows) == 0 {
		if fs.Required {
			return fmt.Sprintf("%s es requerido", field.Label)
		}
		return ""
	}

	// Per-cell validation over visible rows/columns; the first cell error
	// becomes the field's single reported error.
	for ri, row := range rows {
		if ri >= len(fs.Table.Rows) {
			break
		}
		rowState := fs.Table.Rows[ri]
		for ci := range field.TableSchema {
			col := &field.TableSchema[ci]
			cs, ok := rowState.Columns[col.Key]
			if !ok || !cs.Visible {
				continue
			}
			cell := row[col.Key]
			if isEmptyValue(cell) {
				if cs.Required {
					return fmt.Sprintf("%s, fila %d: %s es requerido", field.Label, ri+1, col.Label)
				}
				continue
			}
			if msg := validateTypedValue(col.Type, col.Label, cell, col.Validation); msg != "" {
				return fmt.Sprintf("%s, fila %d: %s", field.Label, ri+1, msg)
			}
		}
	}
	return ""
}

// validateTypedValue applies the type-specific constraints to a non-empty
// value. It runs regardless of requiredness.
func validateTypedValue(fieldType, label string, value any, v *metadata.FieldValidation) string {
	switch fieldType {
	case metadata.FieldText:
		return validateText(label, stringify(value), v)
	case metadata.FieldNumber:
		num, ok := toNumber(value)
		if !ok {
			return fmt.Sprintf("%s debe ser un número", label)
		}
		return validateNumber(label, num, v)
	case metadata.FieldDate:
		return validateDate(label, stringify(value), v)
	}
	return ""
}

func validateText(label, s string, v *metadata.FieldValidation) string {
	if v == nil {
		return ""
	}
	length := utf8.RuneCountInString(s)
	if v.MinLength != nil && length < *v.MinLength {
		return fmt.Sprintf("%s debe tener al menos %d caracteres", label, *v.MinLength)
	}
	if v.MaxLength != nil && length > *v.MaxLength {
		return fmt.Sprintf("%s debe tener como máximo %d caracteres", label, *v.MaxLength)
	}
	if v.Pattern != "" {
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			// Broken pattern in the template: fail open, never block the user.
			log.Printf("WARN: invalid validation pattern %q for %s: %v", v.Pattern, label, err)
			return ""
		}
		if !re.MatchString(s) {
			if v.PatternMessage != "" {
				return v.PatternMessage
			}
			return fmt.Sprintf("%s no tiene un formato válido", label)
		}
	}
	return ""
}

func validateNumber(label string, num float64, v *metadata.FieldValidation) string {
	if v == nil {
		return ""
	}
	if v.Min != nil && num < *v.Min {
		return fmt.Sprintf("%s debe ser mayor o igual a %g", label, *v.Min)
	}
	if v.Max != nil && num > *v.Max {
		return fmt.Sprintf("%s debe ser menor o igual a %g", label, *v.Max)
	}
	return ""
}

// validateDate compares ISO date strings lexically.
func validateDate(label, s string, v *metadata.FieldValidation) string {
	if v == nil {
		return ""
	}
	if v.MinDate != "" && s < v.MinDate {
		return fmt.Sprintf("%s debe ser igual o posterior a %s", label, v.MinDate)
	}
	if v.MaxDate != "" && s > v.MaxDate {
		return fmt.Sprintf("%s debe ser igual o anterior a %s", label, v.MaxDate)
	}
	return ""
}

// isEmptyValue reports whether a value counts as "not provided" for
// required-field checks.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case []map[string]any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
