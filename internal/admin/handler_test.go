package admin

import (
	"testing"

	"formflow-backend/internal/metadata"
)

func TestValidateFormTemplate(t *testing.T) {
	tpl := &metadata.FormTemplate{
		Name: "Solicitud",
		Fields: []metadata.FieldSchema{
			{FieldKey: "tipo", FieldType: metadata.FieldSelect},
			{FieldKey: "monto", FieldType: metadata.FieldNumber},
		},
	}
	if err := validateFormTemplate(tpl); err != nil {
		t.Errorf("expected valid template, got %v", err)
	}

	cases := []struct {
		name string
		tpl  *metadata.FormTemplate
	}{
		{"missing name", &metadata.FormTemplate{}},
		{"missing field key", &metadata.FormTemplate{
			Name:   "x",
			Fields: []metadata.FieldSchema{{FieldType: metadata.FieldText}},
		}},
		{"duplicate field key", &metadata.FormTemplate{
			Name: "x",
			Fields: []metadata.FieldSchema{
				{FieldKey: "a", FieldType: metadata.FieldText},
				{FieldKey: "a", FieldType: metadata.FieldText},
			},
		}},
		{"unknown field type", &metadata.FormTemplate{
			Name:   "x",
			Fields: []metadata.FieldSchema{{FieldKey: "a", FieldType: "dropdown"}},
		}},
	}
	for _, tc := range cases {
		if err := validateFormTemplate(tc.tpl); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestValidateWorkflowTemplate(t *testing.T) {
	wf := &metadata.WorkflowTemplate{
		Name: "Aprobación",
		Steps: []metadata.WorkflowStep{
			{StepOrder: 1, RoleName: "supervisor"},
			{StepOrder: 2, RoleName: "gerencia"},
		},
	}
	if err := validateWorkflowTemplate(wf); err != nil {
		t.Errorf("expected valid workflow, got %v", err)
	}

	if err := validateWorkflowTemplate(&metadata.WorkflowTemplate{Name: "x"}); err == nil {
		t.Error("expected error for empty steps")
	}
	if err := validateWorkflowTemplate(&metadata.WorkflowTemplate{
		Name:  "x",
		Steps: []metadata.WorkflowStep{{StepOrder: 1}},
	}); err == nil {
		t.Error("expected error for missing role_name")
	}
	if err := validateWorkflowTemplate(&metadata.WorkflowTemplate{
		Name:  "x",
		Steps: []metadata.WorkflowStep{{StepOrder: 0, RoleName: "supervisor"}},
	}); err == nil {
		t.Error("expected error for step_order below 1")
	}
}
