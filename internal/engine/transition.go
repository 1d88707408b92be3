package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"

	"formflow-backend/internal/instrument"
	"formflow-backend/internal/metadata"
	"formflow-backend/internal/store"
)

// ReviewEngine drives every request status change: draft lifecycle,
// submission, the approval state machine, and the execution phase. All
// writes for one action share a transaction; notifications go out only
// after commit and never block or fail the action.
type ReviewEngine struct {
	store    *store.Store
	registry *metadata.Registry
	requests RequestStore
	notifier Notifier
}

func NewReviewEngine(s *store.Store, reg *metadata.Registry, rs RequestStore, n Notifier) *ReviewEngine {
	return &ReviewEngine{store: s, registry: reg, requests: rs, notifier: n}
}

// CreateDraft creates a new borrador request for the template.
func (e *ReviewEngine) CreateDraft(ctx context.Context, user *metadata.UserContext, templateID, title string, data map[string]any) (*metadata.Request, error) {
	t := e.registry.GetTemplate(templateID)
	if t == nil || !t.Active {
		return nil, NotFoundError("template", templateID)
	}
	if data == nil {
		data = map[string]any{}
	}

	req := &metadata.Request{
		Title:      title,
		Status:     metadata.StatusBorrador,
		Data:       data,
		TemplateID: templateID,
		CreatedBy:  user.ID,
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.requests.Create(ctx, tx, e.store.Dialect, req); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateDraft replaces the title and value map of an editable request.
// Only the creator (or an admin) may edit, and only while the request sits
// in a pre-review status.
func (e *ReviewEngine) UpdateDraft(ctx context.Context, user *metadata.UserContext, id, title string, data map[string]any) (*metadata.Request, error) {
	req, err := e.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(req, user) {
		return nil, ForbiddenError("only the creator may edit this request")
	}
	switch req.Status {
	case metadata.StatusBorrador, metadata.StatusDevuelta, metadata.StatusEsperandoTercero:
	default:
		return nil, PreconditionError(fmt.Sprintf("request in status %s is not editable", req.Status))
	}

	if err := e.requests.UpdateData(ctx, e.store.DB, e.store.Dialect, id, title, data); err != nil {
		return nil, err
	}
	req.Title = title
	req.Data = data
	return req, nil
}

// Submit moves a request into review. From borrador the workflow steps are
// instantiated from the template; from devuelta the previously reset steps
// are reused. Templates without a workflow approve immediately; templates
// with incomplete external fields park in esperando_tercero first.
func (e *ReviewEngine) Submit(ctx context.Context, user *metadata.UserContext, id string) (req *metadata.Request, err error) {
	ctx, span := instrument.Get(ctx).StartSpan(ctx, "engine", "request.submit")
	defer func() { span.End(err) }()

	req, err = e.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	span.Record("request", req.ID)
	if !canEdit(req, user) {
		return nil, ForbiddenError("only the creator may submit this request")
	}

	switch req.Status {
	case metadata.StatusBorrador, metadata.StatusDevuelta, metadata.StatusEsperandoTercero:
	default:
		return nil, PreconditionError(fmt.Sprintf("request in status %s cannot be submitted", req.Status))
	}

	t := e.registry.GetTemplate(req.TemplateID)
	if t == nil {
		return nil, NotFoundError("template", req.TemplateID)
	}

	target := metadata.StatusEnRevision
	switch {
	case req.Status == metadata.StatusBorrador && hasIncompleteExternalFields(t, req.Data):
		target = metadata.StatusEsperandoTercero
	case !t.HasWorkflow():
		target = metadata.StatusAprobada
	}

	if result := ValidateForm(t, req.Data); !result.Valid {
		errors := result.Errors
		if target == metadata.StatusEsperandoTercero {
			// Empty external fields are the third party's job; they must not
			// block parking the request for them.
			errors = withoutEmptyExternalErrors(t, req.Data, errors)
		}
		if len(errors) > 0 {
			return nil, ValidationError(errors)
		}
	}

	transition := metadata.FindStatusTransition(req.Status, target)
	if transition == nil || !transition.Allowed(user) {
		return nil, PreconditionError(fmt.Sprintf("transition %s -> %s is not allowed", req.Status, target))
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if target == metadata.StatusEnRevision {
		steps, err := e.requests.LoadSteps(ctx, tx, e.store.Dialect, req.ID)
		if err != nil {
			return nil, err
		}
		if len(steps) == 0 {
			wf := e.registry.GetWorkflow(t.WorkflowID)
			if wf == nil {
				return nil, PreconditionError(fmt.Sprintf("workflow %s not found for template %s", t.WorkflowID, t.ID))
			}
			if err := e.requests.InsertSteps(ctx, tx, e.store.Dialect, req.ID, wf.SortedSteps()); err != nil {
				return nil, err
			}
		}
	}

	if err := e.applyStatus(ctx, tx, req, target, user, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.fireStatusEvent(req, t, user, target, "")
	return req, nil
}

// Approve marks the acting user's step approved. When the whole parallel
// level resolves, either the next level activates or, with no level left,
// the request is approved.
func (e *ReviewEngine) Approve(ctx context.Context, user *metadata.UserContext, id, comment string) (req *metadata.Request, err error) {
	ctx, span := instrument.Get(ctx).StartSpan(ctx, "engine", "request.approve")
	defer func() { span.End(err) }()

	req, steps, step, err := e.resolveActionableStep(ctx, user, id)
	if err != nil {
		return nil, err
	}
	span.Record("request", req.ID)
	t := e.registry.GetTemplate(req.TemplateID)

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ok, err := e.requests.UpdateStepIfPending(ctx, tx, e.store.Dialect, step.ID, metadata.StepApproved, user.ID, comment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, PreconditionError("step was already actioned by another reviewer")
	}
	step.Status = metadata.StepApproved

	event := metadata.EventStepApproved
	if LevelApproved(steps, step.StepOrder) {
		if HasHigherLevel(steps, step.StepOrder) {
			event = metadata.EventLevelAdvanced
		} else {
			if err := e.applyStatus(ctx, tx, req, metadata.StatusAprobada, user, comment); err != nil {
				return nil, err
			}
			event = ""
		}
	}

	if event != "" {
		// The status does not change, but the approval itself belongs in the
		// audit trail: who approved, with which comment.
		h := &metadata.RequestStatusHistory{
			RequestID:  req.ID,
			FromStatus: req.Status,
			ToStatus:   req.Status,
			ChangedBy:  user.ID,
			Comment:    comment,
		}
		if err := e.requests.AppendHistory(ctx, tx, e.store.Dialect, h); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if event == "" {
		e.fireStatusEvent(req, t, user, metadata.StatusAprobada, comment)
	} else {
		e.fireEvent(req, t, user, event, req.Status, comment)
	}
	return req, nil
}

// Reject marks the acting user's step rejected and the whole request
// rechazada. Sibling steps keep their state for the audit trail. A comment
// is mandatory.
func (e *ReviewEngine) Reject(ctx context.Context, user *metadata.UserContext, id, comment string) (req *metadata.Request, err error) {
	ctx, span := instrument.Get(ctx).StartSpan(ctx, "engine", "request.reject")
	defer func() { span.End(err) }()

	if comment == "" {
		return nil, PreconditionError("a comment is required to reject")
	}

	req, _, step, err := e.resolveActionableStep(ctx, user, id)
	if err != nil {
		return nil, err
	}
	span.Record("request", req.ID)
	t := e.registry.GetTemplate(req.TemplateID)

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ok, err := e.requests.UpdateStepIfPending(ctx, tx, e.store.Dialect, step.ID, metadata.StepRejected, user.ID, comment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, PreconditionError("step was already actioned by another reviewer")
	}
	if err := e.applyStatus(ctx, tx, req, metadata.StatusRechazada, user, comment); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.fireStatusEvent(req, t, user, metadata.StatusRechazada, comment)
	return req, nil
}

// Return sends the request back to its creator for changes. Every step is
// reset to pending with reviewer traces cleared, so a resubmission restarts
// the workflow from the first level. The return comment survives in the
// status history. A comment is mandatory.
func (e *ReviewEngine) Return(ctx context.Context, user *metadata.UserContext, id, comment string) (req *metadata.Request, err error) {
	ctx, span := instrument.Get(ctx).StartSpan(ctx, "engine", "request.return")
	defer func() { span.End(err) }()

	if comment == "" {
		return nil, PreconditionError("a comment is required to return")
	}

	req, _, _, err = e.resolveActionableStep(ctx, user, id)
	if err != nil {
		return nil, err
	}
	span.Record("request", req.ID)
	t := e.registry.GetTemplate(req.TemplateID)

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.requests.ResetSteps(ctx, tx, e.store.Dialect, req.ID); err != nil {
		return nil, err
	}
	if err := e.applyStatus(ctx, tx, req, metadata.StatusDevuelta, user, comment); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.fireStatusEvent(req, t, user, metadata.StatusDevuelta, comment)
	return req, nil
}

// execution-phase statuses reachable through ChangeStatus; review-phase
// statuses only move through Submit/Approve/Reject/Return.
var manualStatuses = map[string]bool{
	metadata.StatusEnEjecucion: true,
	metadata.StatusEnEspera:    true,
	metadata.StatusCompletada:  true,
	metadata.StatusAnulada:     true,
}

// ChangeStatus drives the execution phase (en_ejecucion, en_espera,
// completada) and cancellation (anulada) under the lifecycle table's role
// restrictions.
func (e *ReviewEngine) ChangeStatus(ctx context.Context, user *metadata.UserContext, id, to, comment string) (req *metadata.Request, err error) {
	ctx, span := instrument.Get(ctx).StartSpan(ctx, "engine", "request.change_status")
	defer func() { span.End(err) }()

	if !manualStatuses[to] {
		return nil, PreconditionError(fmt.Sprintf("status %s cannot be set directly", to))
	}

	req, err = e.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	span.Record("request", req.ID)

	transition := metadata.FindStatusTransition(req.Status, to)
	if transition == nil {
		return nil, PreconditionError(fmt.Sprintf("transition %s -> %s is not allowed", req.Status, to))
	}
	if !transition.Allowed(user) {
		return nil, ForbiddenError("you are not allowed to perform this transition")
	}
	if to == metadata.StatusAnulada && !canEdit(req, user) {
		return nil, ForbiddenError("only the creator may cancel this request")
	}

	t := e.registry.GetTemplate(req.TemplateID)

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.applyStatus(ctx, tx, req, to, user, comment); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.fireStatusEvent(req, t, user, to, comment)
	return req, nil
}

// Comment fires the new_comment event without touching request state.
func (e *ReviewEngine) Comment(ctx context.Context, user *metadata.UserContext, id, comment string) error {
	if comment == "" {
		return PreconditionError("comment must not be empty")
	}
	req, err := e.loadRequest(ctx, id)
	if err != nil {
		return err
	}
	t := e.registry.GetTemplate(req.TemplateID)
	e.fireEvent(req, t, user, metadata.EventNewComment, req.Status, comment)
	return nil
}

// Steps returns the request's workflow steps in level order.
func (e *ReviewEngine) Steps(ctx context.Context, id string) ([]*metadata.RequestWorkflowStep, error) {
	return e.requests.LoadSteps(ctx, e.store.DB, e.store.Dialect, id)
}

// History returns the append-only status trail of a request.
func (e *ReviewEngine) History(ctx context.Context, id string) ([]*metadata.RequestStatusHistory, error) {
	return e.requests.ListHistory(ctx, e.store.DB, e.store.Dialect, id)
}

// Get loads a single request.
func (e *ReviewEngine) Get(ctx context.Context, id string) (*metadata.Request, error) {
	return e.loadRequest(ctx, id)
}

// ListMine returns the user's own requests, newest first.
func (e *ReviewEngine) ListMine(ctx context.Context, user *metadata.UserContext) ([]*metadata.Request, error) {
	return e.requests.ListForUser(ctx, e.store.DB, e.store.Dialect, user.ID)
}

// ListPendingApprovals returns requests with an actionable step for the
// user: the role matches in SQL, then the active-level check runs against
// the loaded steps.
func (e *ReviewEngine) ListPendingApprovals(ctx context.Context, user *metadata.UserContext) ([]*metadata.Request, error) {
	candidates, err := e.requests.ListPendingForRoles(ctx, e.store.DB, e.store.Dialect, user.Roles)
	if err != nil {
		return nil, err
	}
	var out []*metadata.Request
	for _, req := range candidates {
		steps, err := e.requests.LoadSteps(ctx, e.store.DB, e.store.Dialect, req.ID)
		if err != nil {
			return nil, err
		}
		if FindActionableStep(steps, user) != nil {
			out = append(out, req)
		}
	}
	return out, nil
}

func (e *ReviewEngine) loadRequest(ctx context.Context, id string) (*metadata.Request, error) {
	req, err := e.requests.Load(ctx, e.store.DB, e.store.Dialect, id)
	if err == store.ErrNotFound {
		return nil, NotFoundError("request", id)
	}
	return req, err
}

// resolveActionableStep loads the request and finds the step the user may
// act on, enforcing the review-phase preconditions shared by approve,
// reject and return.
func (e *ReviewEngine) resolveActionableStep(ctx context.Context, user *metadata.UserContext, id string) (*metadata.Request, []*metadata.RequestWorkflowStep, *metadata.RequestWorkflowStep, error) {
	req, err := e.loadRequest(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if req.Status != metadata.StatusEnRevision {
		return nil, nil, nil, PreconditionError(fmt.Sprintf("request in status %s is not under review", req.Status))
	}
	steps, err := e.requests.LoadSteps(ctx, e.store.DB, e.store.Dialect, req.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	step := FindActionableStep(steps, user)
	if step == nil {
		return nil, nil, nil, PreconditionError("no pending approval step for this user")
	}
	return req, steps, step, nil
}

// applyStatus writes the status change plus its audit row inside the
// caller's transaction, then mutates the in-memory request.
func (e *ReviewEngine) applyStatus(ctx context.Context, tx *sql.Tx, req *metadata.Request, to string, user *metadata.UserContext, comment string) error {
	if err := e.requests.UpdateStatus(ctx, tx, e.store.Dialect, req.ID, to); err != nil {
		return err
	}
	h := &metadata.RequestStatusHistory{
		RequestID:  req.ID,
		FromStatus: req.Status,
		ToStatus:   to,
		ChangedBy:  user.ID,
		Comment:    comment,
	}
	if err := e.requests.AppendHistory(ctx, tx, e.store.Dialect, h); err != nil {
		return err
	}
	req.Status = to
	return nil
}

func (e *ReviewEngine) fireStatusEvent(req *metadata.Request, t *metadata.FormTemplate, user *metadata.UserContext, newStatus, comment string) {
	e.fireEvent(req, t, user, metadata.StatusEventKey(newStatus), newStatus, comment)
}

// fireEvent hands the event to the notifier on a fresh goroutine. A failed
// or slow notification never surfaces to the caller; the dispatcher logs
// its own errors.
func (e *ReviewEngine) fireEvent(req *metadata.Request, t *metadata.FormTemplate, user *metadata.UserContext, eventKey, newStatus, comment string) {
	if e.notifier == nil {
		return
	}
	templateName := ""
	if t != nil {
		templateName = t.Name
	}
	userName := user.Name
	if userName == "" {
		userName = user.ID
	}
	ev := &NotificationEvent{
		RequestID:   req.ID,
		EventKey:    eventKey,
		NewStatus:   newStatus,
		TriggeredBy: user.ID,
		CreatorID:   req.CreatedBy,
		Variables: map[string]string{
			"user_name":      userName,
			"request_title":  req.Title,
			"request_number": strconv.FormatInt(req.RequestNumber, 10),
			"template_name":  templateName,
			"new_status":     newStatus,
			"comment":        comment,
		},
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: notification dispatch panicked: %v", r)
			}
		}()
		e.notifier.Dispatch(context.Background(), ev)
	}()
}

// hasIncompleteExternalFields reports whether any visible external field is
// still empty, which parks the submission in esperando_tercero.
func hasIncompleteExternalFields(t *metadata.FormTemplate, values map[string]any) bool {
	if !t.HasExternalFields() {
		return false
	}
	state := EvaluateForm(t, values)
	for i := range t.Fields {
		f := &t.Fields[i]
		if !f.External {
			continue
		}
		if fs := state.Get(f.FieldKey); fs != nil && !fs.Visible {
			continue
		}
		if isEmptyValue(values[f.FieldKey]) {
			return true
		}
	}
	return false
}

// withoutEmptyExternalErrors strips validation errors that exist only
// because an external field is still unfilled.
func withoutEmptyExternalErrors(t *metadata.FormTemplate, values map[string]any, errors map[string]string) map[string]string {
	out := make(map[string]string, len(errors))
	for key, msg := range errors {
		f := t.GetField(key)
		if f != nil && f.External && isEmptyValue(values[key]) {
			continue
		}
		out[key] = msg
	}
	return out
}

func canEdit(req *metadata.Request, user *metadata.UserContext) bool {
	if user == nil {
		return false
	}
	return user.IsAdmin() || req.CreatedBy == user.ID
}
