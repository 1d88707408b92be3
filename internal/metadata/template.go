package metadata

import "sort"

// FormSection groups fields for rendering. Fields reference a section by id;
// fields without a section id are unsectioned.
type FormSection struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	SectionOrder  int    `json:"section_order"`
	IsCollapsible bool   `json:"is_collapsible,omitempty"`
}

// FormTemplate is the admin-configured shape of a request form: its fields,
// sections, and the approval workflow (if any) attached at submission time.
type FormTemplate struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	WorkflowID  string        `json:"workflow_id,omitempty"`
	Fields      []FieldSchema `json:"fields"`
	Sections    []FormSection `json:"sections,omitempty"`
	Active      bool          `json:"active"`
}

// SortedFields returns the fields ordered by field_order.
func (t *FormTemplate) SortedFields() []FieldSchema {
	fields := make([]FieldSchema, len(t.Fields))
	copy(fields, t.Fields)
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].FieldOrder < fields[j].FieldOrder
	})
	return fields
}

// SortedSections returns the sections ordered by section_order.
func (t *FormTemplate) SortedSections() []FormSection {
	sections := make([]FormSection, len(t.Sections))
	copy(sections, t.Sections)
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].SectionOrder < sections[j].SectionOrder
	})
	return sections
}

// GetField returns the field with the given key, or nil.
func (t *FormTemplate) GetField(key string) *FieldSchema {
	for i := range t.Fields {
		if t.Fields[i].FieldKey == key {
			return &t.Fields[i]
		}
	}
	return nil
}

// HasWorkflow reports whether an approval workflow is attached. Templates
// without one auto-approve at submission.
func (t *FormTemplate) HasWorkflow() bool {
	return t.WorkflowID != ""
}

// HasExternalFields reports whether any field is flagged for third-party
// completion.
func (t *FormTemplate) HasExternalFields() bool {
	for i := range t.Fields {
		if t.Fields[i].External {
			return true
		}
	}
	return false
}
