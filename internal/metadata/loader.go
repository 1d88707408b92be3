package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"formflow-backend/internal/store"
)

// LoadAll reads all form templates, workflow templates, and notification
// settings from the database and populates the registry.
func LoadAll(ctx context.Context, q store.Querier, reg *Registry) error {
	templates, err := loadTemplates(ctx, q)
	if err != nil {
		return fmt.Errorf("load form templates: %w", err)
	}

	workflows, err := loadWorkflows(ctx, q)
	if err != nil {
		return fmt.Errorf("load workflow templates: %w", err)
	}

	settings, err := loadNotificationSettings(ctx, q)
	if err != nil {
		return fmt.Errorf("load notification settings: %w", err)
	}

	reg.Load(templates, workflows, settings)

	log.Printf("Loaded %d form templates, %d workflow templates, %d notification settings into registry",
		len(templates), len(workflows), len(settings))
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, q store.Querier, reg *Registry) error {
	return LoadAll(ctx, q, reg)
}

func loadTemplates(ctx context.Context, q store.Querier) ([]*FormTemplate, error) {
	rows, err := store.QueryRows(ctx, q,
		"SELECT id, name, definition, active FROM _form_templates ORDER BY name")
	if err != nil {
		return nil, err
	}

	var templates []*FormTemplate
	for _, row := range rows {
		var t FormTemplate
		if err := unmarshalDefinition(row["definition"], &t); err != nil {
			log.Printf("WARN: skipping form template %v (invalid JSON): %v", row["id"], err)
			continue
		}
		t.ID = fmt.Sprintf("%v", row["id"])
		t.Name = fmt.Sprintf("%v", row["name"])
		t.Active = asBool(row["active"])
		templates = append(templates, &t)
	}
	return templates, nil
}

func loadWorkflows(ctx context.Context, q store.Querier) ([]*WorkflowTemplate, error) {
	rows, err := store.QueryRows(ctx, q,
		"SELECT id, name, steps, active FROM _workflow_templates ORDER BY name")
	if err != nil {
		return nil, err
	}

	var workflows []*WorkflowTemplate
	for _, row := range rows {
		var steps []WorkflowStep
		if err := unmarshalDefinition(row["steps"], &steps); err != nil {
			log.Printf("WARN: skipping workflow template %v (invalid steps JSON): %v", row["id"], err)
			continue
		}
		workflows = append(workflows, &WorkflowTemplate{
			ID:     fmt.Sprintf("%v", row["id"]),
			Name:   fmt.Sprintf("%v", row["name"]),
			Steps:  steps,
			Active: asBool(row["active"]),
		})
	}
	return workflows, nil
}

func loadNotificationSettings(ctx context.Context, q store.Querier) ([]*NotificationSetting, error) {
	rows, err := store.QueryRows(ctx, q,
		"SELECT id, event_key, definition, active FROM _notification_settings ORDER BY event_key")
	if err != nil {
		return nil, err
	}

	var settings []*NotificationSetting
	for _, row := range rows {
		var s NotificationSetting
		if err := unmarshalDefinition(row["definition"], &s); err != nil {
			log.Printf("WARN: skipping notification setting %v (invalid JSON): %v", row["id"], err)
			continue
		}
		s.ID = fmt.Sprintf("%v", row["id"])
		s.EventKey = fmt.Sprintf("%v", row["event_key"])
		s.Active = asBool(row["active"])
		settings = append(settings, &s)
	}
	return settings, nil
}

// unmarshalDefinition decodes a JSONB column that may come back as string
// ([]byte normalized by the store) or as an already-decoded map.
func unmarshalDefinition(raw any, dest any) error {
	switch v := raw.(type) {
	case string:
		return json.Unmarshal([]byte(v), dest)
	case nil:
		return fmt.Errorf("definition is null")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dest)
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	}
	return false
}
