package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"formflow-backend/internal/metadata"
	"formflow-backend/internal/store"
)

// RequestStore is the persistence boundary of the review engine. The SQL
// implementation below is the production one; the integration tests drive
// the full state machine against SQLite through it.
type RequestStore interface {
	Create(ctx context.Context, q store.Querier, d store.Dialect, r *metadata.Request) error
	Load(ctx context.Context, q store.Querier, d store.Dialect, id string) (*metadata.Request, error)
	UpdateData(ctx context.Context, q store.Querier, d store.Dialect, id, title string, data map[string]any) error
	UpdateStatus(ctx context.Context, q store.Querier, d store.Dialect, id, status string) error

	LoadSteps(ctx context.Context, q store.Querier, d store.Dialect, requestID string) ([]*metadata.RequestWorkflowStep, error)
	InsertSteps(ctx context.Context, q store.Querier, d store.Dialect, requestID string, steps []metadata.WorkflowStep) error
	UpdateStepIfPending(ctx context.Context, q store.Querier, d store.Dialect, stepID, status, userID, comment string) (bool, error)
	ResetSteps(ctx context.Context, q store.Querier, d store.Dialect, requestID string) error

	AppendHistory(ctx context.Context, q store.Querier, d store.Dialect, h *metadata.RequestStatusHistory) error
	ListHistory(ctx context.Context, q store.Querier, d store.Dialect, requestID string) ([]*metadata.RequestStatusHistory, error)

	ListForUser(ctx context.Context, q store.Querier, d store.Dialect, userID string) ([]*metadata.Request, error)
	ListPendingForRoles(ctx context.Context, q store.Querier, d store.Dialect, roles []string) ([]*metadata.Request, error)
	ListStaleInReview(ctx context.Context, q store.Querier, d store.Dialect, olderThan time.Duration) ([]*metadata.Request, error)
}

// SQLRequestStore implements RequestStore over the system tables.
type SQLRequestStore struct{}

func NewSQLRequestStore() *SQLRequestStore { return &SQLRequestStore{} }

// Create inserts a new draft. The request number is assigned here as
// max+1; callers run this inside a transaction so two drafts cannot share
// a number under the default isolation level on a single writer.
func (s *SQLRequestStore) Create(ctx context.Context, q store.Querier, d store.Dialect, r *metadata.Request) error {
	row, err := store.QueryRow(ctx, q,
		"SELECT COALESCE(MAX(request_number), 0) + 1 AS next FROM _requests")
	if err != nil {
		return fmt.Errorf("next request number: %w", err)
	}
	r.RequestNumber = asInt64(row["next"])

	if r.ID == "" {
		r.ID = store.GenerateUUID()
	}
	if r.Status == "" {
		r.Status = metadata.StatusBorrador
	}

	dataJSON, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}

	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(`INSERT INTO _requests
		(id, request_number, title, status, data_json, template_id, created_by, group_id)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(r.ID), pb.Add(r.RequestNumber), pb.Add(r.Title), pb.Add(r.Status),
		pb.Add(string(dataJSON)), pb.Add(r.TemplateID),
		pb.Add(nilIfEmpty(r.CreatedBy)), pb.Add(nilIfEmpty(r.GroupID)))

	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return d.MapError(err)
	}
	return nil
}

func (s *SQLRequestStore) Load(ctx context.Context, q store.Querier, d store.Dialect, id string) (*metadata.Request, error) {
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, q,
		fmt.Sprintf(`SELECT id, request_number, title, status, data_json, template_id,
			created_by, group_id, created_at, updated_at
			FROM _requests WHERE id = %s`, pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return rowToRequest(row), nil
}

func (s *SQLRequestStore) UpdateData(ctx context.Context, q store.Querier, d store.Dialect, id, title string, data map[string]any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(`UPDATE _requests SET title = %s, data_json = %s, updated_at = %s WHERE id = %s`,
		pb.Add(title), pb.Add(string(dataJSON)), d.NowExpr(), pb.Add(id))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLRequestStore) UpdateStatus(ctx context.Context, q store.Querier, d store.Dialect, id, status string) error {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(`UPDATE _requests SET status = %s, updated_at = %s WHERE id = %s`,
		pb.Add(status), d.NowExpr(), pb.Add(id))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLRequestStore) LoadSteps(ctx context.Context, q store.Querier, d store.Dialect, requestID string) ([]*metadata.RequestWorkflowStep, error) {
	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q,
		fmt.Sprintf(`SELECT id, request_id, step_order, role_name, label, status, approved_by, comment
			FROM _request_workflow_steps WHERE request_id = %s
			ORDER BY step_order, id`, pb.Add(requestID)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	steps := make([]*metadata.RequestWorkflowStep, 0, len(rows))
	for _, row := range rows {
		steps = append(steps, &metadata.RequestWorkflowStep{
			ID:         asString(row["id"]),
			RequestID:  asString(row["request_id"]),
			StepOrder:  int(asInt64(row["step_order"])),
			RoleName:   asString(row["role_name"]),
			Label:      asString(row["label"]),
			Status:     asString(row["status"]),
			ApprovedBy: asString(row["approved_by"]),
			Comment:    asString(row["comment"]),
		})
	}
	return steps, nil
}

// InsertSteps clones the template steps onto the request, all pending.
func (s *SQLRequestStore) InsertSteps(ctx context.Context, q store.Querier, d store.Dialect, requestID string, steps []metadata.WorkflowStep) error {
	for _, step := range steps {
		pb := d.NewParamBuilder()
		sqlStr := fmt.Sprintf(`INSERT INTO _request_workflow_steps
			(id, request_id, step_order, role_name, label, status)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			pb.Add(store.GenerateUUID()), pb.Add(requestID), pb.Add(step.StepOrder),
			pb.Add(step.RoleName), pb.Add(step.Label), pb.Add(metadata.StepPending))
		if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStepIfPending marks a step approved or rejected only if it is still
// pending. The WHERE guard makes concurrent double-approval a no-op for the
// loser; the caller checks the returned flag.
func (s *SQLRequestStore) UpdateStepIfPending(ctx context.Context, q store.Querier, d store.Dialect, stepID, status, userID, comment string) (bool, error) {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(`UPDATE _request_workflow_steps
		SET status = %s, approved_by = %s, comment = %s, updated_at = %s
		WHERE id = %s AND status = %s`,
		pb.Add(status), pb.Add(nilIfEmpty(userID)), pb.Add(nilIfEmpty(comment)),
		d.NowExpr(), pb.Add(stepID), pb.Add(metadata.StepPending))
	n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetSteps puts every step of the request back to pending and clears the
// reviewer traces. Used by the "return to requester" transition.
func (s *SQLRequestStore) ResetSteps(ctx context.Context, q store.Querier, d store.Dialect, requestID string) error {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(`UPDATE _request_workflow_steps
		SET status = %s, approved_by = NULL, comment = NULL, updated_at = %s
		WHERE request_id = %s`,
		pb.Add(metadata.StepPending), d.NowExpr(), pb.Add(requestID))
	_, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	return err
}

func (s *SQLRequestStore) AppendHistory(ctx context.Context, q store.Querier, d store.Dialect, h *metadata.RequestStatusHistory) error {
	if h.ID == "" {
		h.ID = store.GenerateUUID()
	}
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(`INSERT INTO _request_status_history
		(id, request_id, from_status, to_status, changed_by, comment)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		pb.Add(h.ID), pb.Add(h.RequestID), pb.Add(h.FromStatus), pb.Add(h.ToStatus),
		pb.Add(nilIfEmpty(h.ChangedBy)), pb.Add(nilIfEmpty(h.Comment)))
	_, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	return err
}

func (s *SQLRequestStore) ListHistory(ctx context.Context, q store.Querier, d store.Dialect, requestID string) ([]*metadata.RequestStatusHistory, error) {
	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q,
		fmt.Sprintf(`SELECT id, request_id, from_status, to_status, changed_by, comment, created_at
			FROM _request_status_history WHERE request_id = %s
			ORDER BY created_at, id`, pb.Add(requestID)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	out := make([]*metadata.RequestStatusHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, &metadata.RequestStatusHistory{
			ID:         asString(row["id"]),
			RequestID:  asString(row["request_id"]),
			FromStatus: asString(row["from_status"]),
			ToStatus:   asString(row["to_status"]),
			ChangedBy:  asString(row["changed_by"]),
			Comment:    asString(row["comment"]),
			CreatedAt:  asString(row["created_at"]),
		})
	}
	return out, nil
}

func (s *SQLRequestStore) ListForUser(ctx context.Context, q store.Querier, d store.Dialect, userID string) ([]*metadata.Request, error) {
	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q,
		fmt.Sprintf(`SELECT id, request_number, title, status, data_json, template_id,
			created_by, group_id, created_at, updated_at
			FROM _requests WHERE created_by = %s
			ORDER BY request_number DESC`, pb.Add(userID)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return rowsToRequests(rows), nil
}

// ListPendingForRoles returns in-review requests whose active parallel set
// contains a pending step for one of the roles. Role matching happens here
// in SQL; level gating (is the step actually at the current level) happens
// in Go against the loaded steps.
func (s *SQLRequestStore) ListPendingForRoles(ctx context.Context, q store.Querier, d store.Dialect, roles []string) ([]*metadata.Request, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	pb := d.NewParamBuilder()
	placeholders := make([]byte, 0, len(roles)*4)
	for i, role := range roles {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, pb.Add(role)...)
	}
	sqlStr := fmt.Sprintf(`SELECT DISTINCT r.id, r.request_number, r.title, r.status, r.data_json,
			r.template_id, r.created_by, r.group_id, r.created_at, r.updated_at
		FROM _requests r
		JOIN _request_workflow_steps s ON s.request_id = r.id
		WHERE r.status = %s AND s.status = %s AND s.role_name IN (%s)
		ORDER BY r.request_number`,
		pb.Add(metadata.StatusEnRevision), pb.Add(metadata.StepPending), string(placeholders))
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	return rowsToRequests(rows), nil
}

// ListStaleInReview returns requests sitting in review longer than the
// given duration, for the reminder scheduler.
func (s *SQLRequestStore) ListStaleInReview(ctx context.Context, q store.Querier, d store.Dialect, olderThan time.Duration) ([]*metadata.Request, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	pb := d.NewParamBuilder()
	rows, err := store.QueryRows(ctx, q,
		fmt.Sprintf(`SELECT id, request_number, title, status, data_json, template_id,
			created_by, group_id, created_at, updated_at
			FROM _requests WHERE status = %s AND updated_at < %s
			ORDER BY updated_at`, pb.Add(metadata.StatusEnRevision), pb.Add(cutoff)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return rowsToRequests(rows), nil
}

func rowsToRequests(rows []map[string]any) []*metadata.Request {
	out := make([]*metadata.Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToRequest(row))
	}
	return out
}

func rowToRequest(row map[string]any) *metadata.Request {
	return &metadata.Request{
		ID:            asString(row["id"]),
		RequestNumber: asInt64(row["request_number"]),
		Title:         asString(row["title"]),
		Status:        asString(row["status"]),
		Data:          decodeDataJSON(row["data_json"]),
		TemplateID:    asString(row["template_id"]),
		CreatedBy:     asString(row["created_by"]),
		GroupID:       asString(row["group_id"]),
		CreatedAt:     asString(row["created_at"]),
		UpdatedAt:     asString(row["updated_at"]),
	}
}

// decodeDataJSON tolerates JSONB coming back as a map (pgx), a string, or
// raw bytes. Corrupt payloads log and yield an empty map rather than losing
// the whole request.
func decodeDataJSON(v any) map[string]any {
	switch data := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return data
	case string:
		m := map[string]any{}
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			log.Printf("WARN: bad data_json payload: %v", err)
		}
		return m
	case []byte:
		m := map[string]any{}
		if err := json.Unmarshal(data, &m); err != nil {
			log.Printf("WARN: bad data_json payload: %v", err)
		}
		return m
	}
	return map[string]any{}
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", v)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		var out int64
		fmt.Sscanf(string(n), "%d", &out)
		return out
	case string:
		var out int64
		fmt.Sscanf(n, "%d", &out)
		return out
	}
	return 0
}

// nilIfEmpty maps "" to NULL for nullable UUID/text columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
