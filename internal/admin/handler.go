package admin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"formflow-backend/internal/auth"
	"formflow-backend/internal/engine"
	"formflow-backend/internal/metadata"
	"formflow-backend/internal/store"
)

// Handler exposes the admin configuration surface: form templates,
// workflow templates, notification settings, and user management. Every
// mutation reloads the registry so the running engine picks the change up
// immediately.
type Handler struct {
	store    *store.Store
	registry *metadata.Registry
}

func NewHandler(s *store.Store, reg *metadata.Registry) *Handler {
	return &Handler{store: s, registry: reg}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	g := app.Group("/api/_admin", middleware...)

	g.Get("/form-templates", h.ListFormTemplates)
	g.Get("/form-templates/:id", h.GetFormTemplate)
	g.Post("/form-templates", h.CreateFormTemplate)
	g.Put("/form-templates/:id", h.UpdateFormTemplate)
	g.Delete("/form-templates/:id", h.DeactivateFormTemplate)

	g.Get("/workflow-templates", h.ListWorkflowTemplates)
	g.Get("/workflow-templates/:id", h.GetWorkflowTemplate)
	g.Post("/workflow-templates", h.CreateWorkflowTemplate)
	g.Put("/workflow-templates/:id", h.UpdateWorkflowTemplate)
	g.Delete("/workflow-templates/:id", h.DeactivateWorkflowTemplate)

	g.Get("/notification-settings", h.ListNotificationSettings)
	g.Post("/notification-settings", h.CreateNotificationSetting)
	g.Put("/notification-settings/:id", h.UpdateNotificationSetting)
	g.Delete("/notification-settings/:id", h.DeleteNotificationSetting)

	g.Get("/users", h.ListUsers)
	g.Post("/users", h.CreateUser)
	g.Put("/users/:id", h.UpdateUser)
}

// --- Form templates ---

func (h *Handler) ListFormTemplates(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllTemplates()})
}

func (h *Handler) GetFormTemplate(c *fiber.Ctx) error {
	t := h.registry.GetTemplate(c.Params("id"))
	if t == nil {
		return engine.NotFoundError("form template", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": t})
}

func (h *Handler) CreateFormTemplate(c *fiber.Ctx) error {
	var t metadata.FormTemplate
	if err := c.BodyParser(&t); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if err := validateFormTemplate(&t); err != nil {
		return engine.PreconditionError(err.Error())
	}
	t.ID = store.GenerateUUID()
	t.Active = true

	defJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("INSERT INTO _form_templates (id, name, definition, active) VALUES (%s, %s, %s, %s)",
			pb.Add(t.ID), pb.Add(t.Name), pb.Add(string(defJSON)), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return engine.NewAppError("CONFLICT", 409, "Form template already exists: "+t.Name)
		}
		return fmt.Errorf("insert form template: %w", err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": t})
}

func (h *Handler) UpdateFormTemplate(c *fiber.Ctx) error {
	id := c.Params("id")
	if h.registry.GetTemplate(id) == nil {
		return engine.NotFoundError("form template", id)
	}

	var t metadata.FormTemplate
	if err := c.BodyParser(&t); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	t.ID = id
	if err := validateFormTemplate(&t); err != nil {
		return engine.PreconditionError(err.Error())
	}

	defJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("UPDATE _form_templates SET name = %s, definition = %s, active = %s, updated_at = %s WHERE id = %s",
			pb.Add(t.Name), pb.Add(string(defJSON)), pb.Add(t.Active), h.store.Dialect.NowExpr(), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update form template: %w", err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": t})
}

// DeactivateFormTemplate soft-disables a template. Existing requests keep
// working; new drafts cannot use it.
func (h *Handler) DeactivateFormTemplate(c *fiber.Ctx) error {
	return h.deactivate(c, "_form_templates", "form template")
}

// --- Workflow templates ---

func (h *Handler) ListWorkflowTemplates(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllWorkflows()})
}

func (h *Handler) GetWorkflowTemplate(c *fiber.Ctx) error {
	w := h.registry.GetWorkflow(c.Params("id"))
	if w == nil {
		return engine.NotFoundError("workflow template", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": w})
}

func (h *Handler) CreateWorkflowTemplate(c *fiber.Ctx) error {
	var w metadata.WorkflowTemplate
	if err := c.BodyParser(&w); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if err := validateWorkflowTemplate(&w); err != nil {
		return engine.PreconditionError(err.Error())
	}
	w.ID = store.GenerateUUID()
	w.Active = true

	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("INSERT INTO _workflow_templates (id, name, steps, active) VALUES (%s, %s, %s, %s)",
			pb.Add(w.ID), pb.Add(w.Name), pb.Add(string(stepsJSON)), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return engine.NewAppError("CONFLICT", 409, "Workflow template already exists: "+w.Name)
		}
		return fmt.Errorf("insert workflow template: %w", err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": w})
}

func (h *Handler) UpdateWorkflowTemplate(c *fiber.Ctx) error {
	id := c.Params("id")
	if h.registry.GetWorkflow(id) == nil {
		return engine.NotFoundError("workflow template", id)
	}

	var w metadata.WorkflowTemplate
	if err := c.BodyParser(&w); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	w.ID = id
	if err := validateWorkflowTemplate(&w); err != nil {
		return engine.PreconditionError(err.Error())
	}

	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("UPDATE _workflow_templates SET name = %s, steps = %s, active = %s, updated_at = %s WHERE id = %s",
			pb.Add(w.Name), pb.Add(string(stepsJSON)), pb.Add(w.Active), h.store.Dialect.NowExpr(), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update workflow template: %w", err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": w})
}

func (h *Handler) DeactivateWorkflowTemplate(c *fiber.Ctx) error {
	return h.deactivate(c, "_workflow_templates", "workflow template")
}

// --- Notification settings ---

func (h *Handler) ListNotificationSettings(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllNotificationSettings()})
}

func (h *Handler) CreateNotificationSetting(c *fiber.Ctx) error {
	var s metadata.NotificationSetting
	if err := c.BodyParser(&s); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if s.EventKey == "" {
		return engine.PreconditionError("event_key is required")
	}
	s.ID = store.GenerateUUID()
	s.Active = true

	defJSON, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshal setting: %w", err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("INSERT INTO _notification_settings (id, event_key, definition, active) VALUES (%s, %s, %s, %s)",
			pb.Add(s.ID), pb.Add(s.EventKey), pb.Add(string(defJSON)), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return engine.NewAppError("CONFLICT", 409, "Notification setting already exists: "+s.EventKey)
		}
		return fmt.Errorf("insert notification setting: %w", err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": &s})
}

func (h *Handler) UpdateNotificationSetting(c *fiber.Ctx) error {
	id := c.Params("id")

	var s metadata.NotificationSetting
	if err := c.BodyParser(&s); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	s.ID = id
	if s.EventKey == "" {
		return engine.PreconditionError("event_key is required")
	}

	defJSON, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshal setting: %w", err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("UPDATE _notification_settings SET event_key = %s, definition = %s, active = %s, updated_at = %s WHERE id = %s",
			pb.Add(s.EventKey), pb.Add(string(defJSON)), pb.Add(s.Active), h.store.Dialect.NowExpr(), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update notification setting: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("notification setting", id)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": &s})
}

func (h *Handler) DeleteNotificationSetting(c *fiber.Ctx) error {
	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("DELETE FROM _notification_settings WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete notification setting: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("notification setting", id)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": true}})
}

// --- Users ---

func (h *Handler) ListUsers(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.UserContext(), h.store.DB,
		"SELECT id, email, name, roles, active, created_at FROM _users ORDER BY email")
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	// Normalize roles per dialect so clients always see a JSON array
	for _, row := range rows {
		roles, err := h.store.Dialect.ScanArray(row["roles"])
		if err == nil {
			row["roles"] = roles
		}
	}
	return c.JSON(fiber.Map{"data": rows})
}

func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var body struct {
		Email    string   `json:"email"`
		Name     string   `json:"name"`
		Password string   `json:"password"`
		Roles    []string `json:"roles"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.PreconditionError("email and password are required")
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		return err
	}

	id := store.GenerateUUID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("INSERT INTO _users (id, email, name, password_hash, roles, active) VALUES (%s, %s, %s, %s, %s, %s)",
			pb.Add(id), pb.Add(body.Email), pb.Add(body.Name), pb.Add(hash),
			pb.Add(h.store.Dialect.ArrayParam(body.Roles)), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return engine.NewAppError("CONFLICT", 409, "User already exists: "+body.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return c.Status(201).JSON(fiber.Map{"data": fiber.Map{
		"id": id, "email": body.Email, "name": body.Name, "roles": body.Roles,
	}})
}

func (h *Handler) UpdateUser(c *fiber.Ctx) error {
	id := c.Params("id")
	var body struct {
		Name   *string  `json:"name"`
		Roles  []string `json:"roles"`
		Active *bool    `json:"active"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	pb := h.store.Dialect.NewParamBuilder()
	sets := ""
	if body.Name != nil {
		sets += ", name = " + pb.Add(*body.Name)
	}
	if body.Roles != nil {
		sets += ", roles = " + pb.Add(h.store.Dialect.ArrayParam(body.Roles))
	}
	if body.Active != nil {
		sets += ", active = " + pb.Add(*body.Active)
	}
	if sets == "" {
		return engine.PreconditionError("nothing to update")
	}

	n, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("UPDATE _users SET updated_at = %s%s WHERE id = %s",
			h.store.Dialect.NowExpr(), sets, pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("user", id)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"updated": true}})
}

// --- helpers ---

func (h *Handler) deactivate(c *fiber.Ctx, table, what string) error {
	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("UPDATE %s SET active = %s, updated_at = %s WHERE id = %s",
			table, pb.Add(false), h.store.Dialect.NowExpr(), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", what, err)
	}
	if n == 0 {
		return engine.NotFoundError(what, id)
	}
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"active": false}})
}

func (h *Handler) reload(c *fiber.Ctx) error {
	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return nil
}

func validateFormTemplate(t *metadata.FormTemplate) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	seen := map[string]bool{}
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.FieldKey == "" {
			return fmt.Errorf("field %d: field_key is required", i)
		}
		if seen[f.FieldKey] {
			return fmt.Errorf("duplicate field_key %q", f.FieldKey)
		}
		seen[f.FieldKey] = true
		switch f.FieldType {
		case metadata.FieldText, metadata.FieldNumber, metadata.FieldDate,
			metadata.FieldSelect, metadata.FieldBoolean, metadata.FieldTable, metadata.FieldFile:
		default:
			return fmt.Errorf("field %q: unknown field_type %q", f.FieldKey, f.FieldType)
		}
	}
	return nil
}

func validateWorkflowTemplate(w *metadata.WorkflowTemplate) error {
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, s := range w.Steps {
		if s.RoleName == "" {
			return fmt.Errorf("step %d: role_name is required", i)
		}
		if s.StepOrder < 1 {
			return fmt.Errorf("step %d: step_order must be >= 1", i)
		}
	}
	return nil
}
