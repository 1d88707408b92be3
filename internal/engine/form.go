package engine

import (
	"formflow-backend/internal/metadata"
)

// The dynamic form model: given a template and the current value map, compute
// the effective visible/required/option state for every field, every section,
// and every row x column of table fields. The UI re-runs this on every value
// change; it is linear in rule count and allocates no shared state.

// ColumnState is the per-row effective state of one table column.
type ColumnState struct {
	Visible  bool     `json:"visible"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// RowState holds the evaluated column states for one table row.
type RowState struct {
	Columns map[string]ColumnState `json:"columns"`
}

// TableState is the evaluated state of a table-type field.
// HeaderColumns lists the column keys to render: a ruled column appears only
// if it is visible in at least one row; with zero rows all columns show so
// the user can configure before adding data.
type TableState struct {
	HeaderColumns []string   `json:"header_columns"`
	Rows          []RowState `json:"rows"`
}

// FieldState is the evaluated state of one field.
type FieldState struct {
	Key      string      `json:"key"`
	Label    string      `json:"label"`
	Visible  bool        `json:"visible"`
	Required bool        `json:"required"`
	Options  []string    `json:"options,omitempty"`
	Table    *TableState `json:"table,omitempty"`
}

// SectionState reports whether a section renders at all. A section with no
// currently visible field is skipped entirely, not shown collapsed-empty.
type SectionState struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Visible bool     `json:"visible"`
	Fields  []string `json:"fields"`
}

// FormState is the full evaluated form: fields in field_order, sections in
// section_order, plus the unsectioned field group.
type FormState struct {
	Fields      []FieldState   `json:"fields"`
	Sections    []SectionState `json:"sections,omitempty"`
	Unsectioned []string       `json:"unsectioned,omitempty"`
}

// Get returns the state for a field key, or nil.
func (s *FormState) Get(key string) *FieldState {
	for i := range s.Fields {
		if s.Fields[i].Key == key {
			return &s.Fields[i]
		}
	}
	return nil
}

// EvaluateForm computes the effective form state for the given values.
func EvaluateForm(t *metadata.FormTemplate, values map[string]any) *FormState {
	if values == nil {
		values = map[string]any{}
	}

	fields := t.SortedFields()
	state := &FormState{Fields: make([]FieldState, 0, len(fields))}

	visibleByKey := make(map[string]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		fs := evaluateField(f, values)
		visibleByKey[f.FieldKey] = fs.Visible
		state.Fields = append(state.Fields, fs)
	}

	for _, sec := range t.SortedSections() {
		ss := SectionState{ID: sec.ID, Title: sec.Title}
		for i := range fields {
			if fields[i].SectionID != sec.ID {
				continue
			}
			ss.Fields = append(ss.Fields, fields[i].FieldKey)
			if visibleByKey[fields[i].FieldKey] {
				ss.Visible = true
			}
		}
		state.Sections = append(state.Sections, ss)
	}

	for i := range fields {
		if fields[i].SectionID == "" {
			state.Unsectioned = append(state.Unsectioned, fields[i].FieldKey)
		}
	}

	return state
}

func evaluateField(f *metadata.FieldSchema, values map[string]any) FieldState {
	rules := f.Rules()

	fs := FieldState{
		Key:      f.FieldKey,
		Label:    f.Label,
		Visible:  ShouldShow(rules, values),
		Required: f.IsRequired || IsDynamicallyRequired(rules, values),
	}

	if opts := ResolveOptions(rules, values); opts != nil {
		fs.Options = opts
	} else {
		fs.Options = f.Options
	}

	if f.FieldType == metadata.FieldTable {
		fs.Table = evaluateTable(f, rules, values)
	}

	return fs
}

func evaluateTable(f *metadata.FieldSchema, fieldRules []metadata.FieldRule, values map[string]any) *TableState {
	rows := tableRows(values[f.FieldKey])

	ts := &TableState{Rows: make([]RowState, len(rows))}
	visibleSomewhere := make(map[string]bool, len(f.TableSchema))

	for ri, row := range rows {
		rs := RowState{Columns: make(map[string]ColumnState, len(f.TableSchema))}
		for ci := range f.TableSchema {
			col := &f.TableSchema[ci]
			cs := ColumnState{
				Visible:  ShouldShowInRow(col.Rules, values, row, ""),
				Required: col.Required || IsRequiredInRow(col.Rules, values, row, ""),
			}
			if opts := ResolveOptionsInRow(col.Rules, values, row, ""); opts != nil {
				cs.Options = opts
			} else if opts := ResolveOptionsInRow(fieldRules, values, row, col.Key); opts != nil {
				cs.Options = opts
			} else {
				cs.Options = col.Options
			}
			if cs.Visible {
				visibleSomewhere[col.Key] = true
			}
			rs.Columns[col.Key] = cs
		}
		ts.Rows[ri] = rs
	}

	for ci := range f.TableSchema {
		col := &f.TableSchema[ci]
		if len(rows) == 0 || columnAlwaysVisible(col) || visibleSomewhere[col.Key] {
			ts.HeaderColumns = append(ts.HeaderColumns, col.Key)
		}
	}

	return ts
}

// columnAlwaysVisible reports whether the column carries no show-rules.
func columnAlwaysVisible(col *metadata.TableColumnSchema) bool {
	for i := range col.Rules {
		if col.Rules[i].Effect == metadata.EffectShow && col.Rules[i].TargetColumnKey == "" {
			return false
		}
	}
	return true
}

// tableRows coerces a stored table value into row maps. Anything that is not
// a list of objects yields no rows.
func tableRows(v any) []map[string]any {
	switch rows := v.(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
