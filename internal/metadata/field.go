package metadata

import "encoding/json"

// Field types supported by form templates.
const (
	FieldText    = "text"
	FieldNumber  = "number"
	FieldDate    = "date"
	FieldSelect  = "select"
	FieldBoolean = "boolean"
	FieldTable   = "table"
	FieldFile    = "file"
)

// FieldValidation holds the type-specific constraints for a field or table
// column. Which members apply depends on the field type: length/pattern for
// text, min/max for number, minDate/maxDate (ISO strings, compared lexically)
// for date.
type FieldValidation struct {
	MinLength      *int     `json:"minLength,omitempty"`
	MaxLength      *int     `json:"maxLength,omitempty"`
	Pattern        string   `json:"pattern,omitempty"`
	PatternMessage string   `json:"patternMessage,omitempty"`
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	MinDate        string   `json:"minDate,omitempty"`
	MaxDate        string   `json:"maxDate,omitempty"`
}

// TableColumnSchema describes one column of a table-type field. Column rules
// are evaluated per row, with row values layered over the top-level form
// values.
type TableColumnSchema struct {
	Key        string           `json:"key"`
	Label      string           `json:"label"`
	Type       string           `json:"type"` // text, number, date, select, boolean
	Required   bool             `json:"required,omitempty"`
	Options    []string         `json:"options,omitempty"`
	Validation *FieldValidation `json:"validation,omitempty"`
	Rules      []FieldRule      `json:"rules,omitempty"`
}

// FieldSchema is the admin-configured definition of a single form field.
// Dependency is kept raw because three shapes exist in stored templates
// (rule array, legacy single condition, null); use Rules() to get the
// normalized form.
type FieldSchema struct {
	FieldKey    string              `json:"field_key"`
	Label       string              `json:"label"`
	FieldType   string              `json:"field_type"`
	IsRequired  bool                `json:"is_required"`
	Placeholder string              `json:"placeholder,omitempty"`
	Options     []string            `json:"options,omitempty"`
	TableSchema []TableColumnSchema `json:"table_schema,omitempty"`
	Dependency  json.RawMessage     `json:"dependency,omitempty"`
	Validation  *FieldValidation    `json:"validation,omitempty"`
	FieldOrder  int                 `json:"field_order"`
	SectionID   string              `json:"section_id,omitempty"`
	External    bool                `json:"external,omitempty"` // completed by a third-party guest
}

// Rules returns the field's visibility/requiredness/options rules in
// normalized form. Legacy single-condition dependencies are wrapped into a
// one-rule list; absent or malformed input yields an empty list.
func (f *FieldSchema) Rules() []FieldRule {
	return NormalizeRules(f.Dependency)
}

// GetColumn returns the table column with the given key, or nil.
func (f *FieldSchema) GetColumn(key string) *TableColumnSchema {
	for i := range f.TableSchema {
		if f.TableSchema[i].Key == key {
			return &f.TableSchema[i]
		}
	}
	return nil
}
