package engine

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"formflow-backend/internal/metadata"
)

// RequestHandler exposes the request lifecycle over HTTP. All state
// changes delegate to the ReviewEngine; the handler only parses, checks
// auth presence, and shapes responses.
type RequestHandler struct {
	engine   *ReviewEngine
	registry *metadata.Registry
}

func NewRequestHandler(e *ReviewEngine, reg *metadata.Registry) *RequestHandler {
	return &RequestHandler{engine: e, registry: reg}
}

// RegisterRequestRoutes adds the request lifecycle routes.
func RegisterRequestRoutes(app *fiber.App, h *RequestHandler, middleware ...fiber.Handler) {
	g := app.Group("/api/requests", middleware...)
	g.Post("/", h.Create)
	g.Get("/", h.ListMine)
	g.Get("/pending", h.ListPending)
	g.Get("/:id", h.Get)
	g.Put("/:id", h.Update)
	g.Get("/:id/steps", h.Steps)
	g.Get("/:id/history", h.History)
	g.Get("/:id/state", h.FormState)
	g.Post("/:id/submit", h.Submit)
	g.Post("/:id/approve", h.Approve)
	g.Post("/:id/reject", h.Reject)
	g.Post("/:id/return", h.Return)
	g.Post("/:id/status", h.ChangeStatus)
	g.Post("/:id/comments", h.Comment)
}

type requestBody struct {
	TemplateID string         `json:"template_id"`
	Title      string         `json:"title"`
	Data       map[string]any `json:"data"`
}

type actionBody struct {
	Comment string `json:"comment"`
	To      string `json:"to"`
}

func (h *RequestHandler) Create(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	var body requestBody
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if body.TemplateID == "" {
		return PreconditionError("template_id is required")
	}
	req, err := h.engine.CreateDraft(c.UserContext(), user, body.TemplateID, body.Title, body.Data)
	if err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": req})
}

func (h *RequestHandler) ListMine(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	requests, err := h.engine.ListMine(c.UserContext(), user)
	if err != nil {
		return err
	}
	if requests == nil {
		requests = []*metadata.Request{}
	}
	return c.JSON(fiber.Map{"data": requests})
}

func (h *RequestHandler) ListPending(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	requests, err := h.engine.ListPendingApprovals(c.UserContext(), user)
	if err != nil {
		return err
	}
	if requests == nil {
		requests = []*metadata.Request{}
	}
	return c.JSON(fiber.Map{"data": requests})
}

func (h *RequestHandler) Get(c *fiber.Ctx) error {
	req, err := h.engine.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": req})
}

func (h *RequestHandler) Update(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	var body requestBody
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	req, err := h.engine.UpdateDraft(c.UserContext(), user, c.Params("id"), body.Title, body.Data)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": req})
}

func (h *RequestHandler) Steps(c *fiber.Ctx) error {
	steps, err := h.engine.Steps(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []*metadata.RequestWorkflowStep{}
	}
	return c.JSON(fiber.Map{"data": steps})
}

func (h *RequestHandler) History(c *fiber.Ctx) error {
	history, err := h.engine.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if history == nil {
		history = []*metadata.RequestStatusHistory{}
	}
	return c.JSON(fiber.Map{"data": history})
}

// FormState evaluates the request's template against its stored values,
// so clients can render a saved request without re-posting the data.
func (h *RequestHandler) FormState(c *fiber.Ctx) error {
	req, err := h.engine.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	t := h.registry.GetTemplate(req.TemplateID)
	if t == nil {
		return NotFoundError("template", req.TemplateID)
	}
	return c.JSON(fiber.Map{"data": EvaluateForm(t, req.Data)})
}

func (h *RequestHandler) Submit(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	req, err := h.engine.Submit(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": req})
}

func (h *RequestHandler) Approve(c *fiber.Ctx) error {
	return h.review(c, h.engine.Approve)
}

func (h *RequestHandler) Reject(c *fiber.Ctx) error {
	return h.review(c, h.engine.Reject)
}

func (h *RequestHandler) Return(c *fiber.Ctx) error {
	return h.review(c, h.engine.Return)
}

type reviewAction func(ctx context.Context, user *metadata.UserContext, id, comment string) (*metadata.Request, error)

func (h *RequestHandler) review(c *fiber.Ctx, action reviewAction) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	var body actionBody
	if err := c.BodyParser(&body); err != nil && len(c.Body()) > 0 {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	req, err := action(c.UserContext(), user, c.Params("id"), body.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": req})
}

func (h *RequestHandler) ChangeStatus(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	var body actionBody
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if body.To == "" {
		return PreconditionError("to status is required")
	}
	req, err := h.engine.ChangeStatus(c.UserContext(), user, c.Params("id"), body.To, body.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": req})
}

func (h *RequestHandler) Comment(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}
	var body actionBody
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if err := h.engine.Comment(c.UserContext(), user, c.Params("id"), body.Comment); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "ok"}})
}
