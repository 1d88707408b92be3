package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"formflow-backend/internal/metadata"
	"formflow-backend/internal/store"
)

// FormHandler serves the template-driven form surface: template listing,
// form state evaluation, validation, and the expression editor helpers.
// These endpoints are pure over the registry; nothing here writes.
type FormHandler struct {
	registry *metadata.Registry
}

func NewFormHandler(reg *metadata.Registry) *FormHandler {
	return &FormHandler{registry: reg}
}

// RegisterFormRoutes adds the form evaluation routes.
func RegisterFormRoutes(app *fiber.App, h *FormHandler, middleware ...fiber.Handler) {
	g := app.Group("/api/templates", middleware...)
	g.Get("/", h.List)
	g.Get("/:id", h.Get)
	g.Post("/:id/evaluate", h.Evaluate)
	g.Post("/:id/validate", h.Validate)

	e := app.Group("/api/_expressions", middleware...)
	e.Post("/check", h.CheckExpression)
	e.Post("/build", h.BuildExpressionText)
}

func (h *FormHandler) List(c *fiber.Ctx) error {
	all := h.registry.AllTemplates()
	active := make([]*metadata.FormTemplate, 0, len(all))
	for _, t := range all {
		if t.Active {
			active = append(active, t)
		}
	}
	return c.JSON(fiber.Map{"data": active})
}

func (h *FormHandler) Get(c *fiber.Ctx) error {
	t := h.registry.GetTemplate(c.Params("id"))
	if t == nil {
		return NotFoundError("template", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": t})
}

// Evaluate computes the visible/required/options state of every field for
// the posted value map. The UI calls this on each value change.
func (h *FormHandler) Evaluate(c *fiber.Ctx) error {
	t := h.registry.GetTemplate(c.Params("id"))
	if t == nil {
		return NotFoundError("template", c.Params("id"))
	}
	var body struct {
		Values map[string]any `json:"values"`
	}
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	return c.JSON(fiber.Map{"data": EvaluateForm(t, body.Values)})
}

func (h *FormHandler) Validate(c *fiber.Ctx) error {
	t := h.registry.GetTemplate(c.Params("id"))
	if t == nil {
		return NotFoundError("template", c.Params("id"))
	}
	var body struct {
		Values map[string]any `json:"values"`
	}
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	return c.JSON(fiber.Map{"data": ValidateForm(t, body.Values)})
}

// CheckExpression reports whether a free-text condition parses. The editor
// uses this for inline feedback; at evaluation time a broken expression
// would silently fail open.
func (h *FormHandler) CheckExpression(c *fiber.Ctx) error {
	var body struct {
		Expression string `json:"expression"`
	}
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if _, err := ParseExpression(body.Expression); err != nil {
		return c.JSON(fiber.Map{"data": fiber.Map{"valid": false, "error": err.Error()}})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"valid": true}})
}

// BuildExpressionText serializes structured conditions to expression text,
// pre-populating the free-text editor.
func (h *FormHandler) BuildExpressionText(c *fiber.Ctx) error {
	var body struct {
		Conditions []metadata.FieldCondition `json:"conditions"`
		Logic      string                    `json:"logic"`
	}
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"expression": BuildExpression(body.Conditions, body.Logic)}})
}

// NotificationHandler serves the authenticated user's in-app notifications.
type NotificationHandler struct {
	store *store.Store
}

func NewNotificationHandler(s *store.Store) *NotificationHandler {
	return &NotificationHandler{store: s}
}

func RegisterNotificationRoutes(app *fiber.App, h *NotificationHandler, middleware ...fiber.Handler) {
	g := app.Group("/api/notifications", middleware...)
	g.Get("/", h.List)
	g.Post("/:id/read", h.MarkRead)
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	pb := h.store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(c.UserContext(), h.store.DB,
		fmt.Sprintf(`SELECT id, request_id, event_key, title, message, read, created_at
			FROM _notifications WHERE user_id = %s
			ORDER BY created_at DESC LIMIT 100`, pb.Add(user.ID)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf(`UPDATE _notifications SET read = %s WHERE id = %s AND user_id = %s`,
			pb.Add(true), pb.Add(c.Params("id")), pb.Add(user.ID)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n == 0 {
		return NotFoundError("notification", c.Params("id"))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"read": true}})
}

// currentUser extracts the authenticated user set by the auth middleware.
func currentUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
