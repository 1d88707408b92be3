package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string     { return "datetime('now')" }
func (d *SQLiteDialect) UUIDDefault() string { return "" }
func (d *SQLiteDialect) NeedsBoolFix() bool  { return true }

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) ArrayParam(values []string) any {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func (d *SQLiteDialect) ScanArray(src any) ([]string, error) {
	if src == nil {
		return []string{}, nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case []string:
		return v, nil
	default:
		return []string{}, nil
	}
	if strings.TrimSpace(s) == "" {
		return []string{}, nil
	}
	var result []string
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return nil, fmt.Errorf("scan array: %w", err)
	}
	return result, nil
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---
// UUIDs are generated in application code; booleans are INTEGER 0/1;
// timestamps are TEXT in ISO8601.

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _form_templates (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    definition  TEXT NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _workflow_templates (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    steps       TEXT NOT NULL DEFAULT '[]',
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _notification_settings (
    id          TEXT PRIMARY KEY,
    event_key   TEXT NOT NULL UNIQUE,
    definition  TEXT NOT NULL,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _requests (
    id             TEXT PRIMARY KEY,
    request_number INTEGER NOT NULL,
    title          TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'borrador',
    data_json      TEXT NOT NULL DEFAULT '{}',
    template_id    TEXT NOT NULL REFERENCES _form_templates(id),
    created_by     TEXT,
    group_id       TEXT,
    created_at     TEXT DEFAULT (datetime('now')),
    updated_at     TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_requests_status ON _requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_created_by ON _requests(created_by);

CREATE TABLE IF NOT EXISTS _request_workflow_steps (
    id          TEXT PRIMARY KEY,
    request_id  TEXT NOT NULL REFERENCES _requests(id) ON DELETE CASCADE,
    step_order  INTEGER NOT NULL,
    role_name   TEXT NOT NULL,
    label       TEXT,
    status      TEXT NOT NULL DEFAULT 'pending',
    approved_by TEXT,
    comment     TEXT,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_steps_request ON _request_workflow_steps(request_id, status);

CREATE TABLE IF NOT EXISTS _request_status_history (
    id          TEXT PRIMARY KEY,
    request_id  TEXT NOT NULL REFERENCES _requests(id) ON DELETE CASCADE,
    from_status TEXT NOT NULL,
    to_status   TEXT NOT NULL,
    changed_by  TEXT,
    comment     TEXT,
    created_at  TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_history_request ON _request_status_history(request_id);

CREATE TABLE IF NOT EXISTS _notifications (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    request_id TEXT,
    event_key  TEXT NOT NULL,
    title      TEXT NOT NULL,
    message    TEXT,
    read       INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON _notifications(user_id, read);

CREATE TABLE IF NOT EXISTS _files (
    id           TEXT PRIMARY KEY,
    request_id   TEXT,
    field_key    TEXT NOT NULL,
    filename     TEXT NOT NULL,
    mime_type    TEXT,
    storage_path TEXT NOT NULL,
    size_bytes   INTEGER NOT NULL DEFAULT 0,
    uploaded_by  TEXT,
    created_at   TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    name          TEXT,
    password_hash TEXT NOT NULL,
    roles         TEXT DEFAULT '[]',
    active        INTEGER DEFAULT 1,
    created_at    TEXT DEFAULT (datetime('now')),
    updated_at    TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      TEXT NOT NULL UNIQUE,
    expires_at TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token ON _refresh_tokens(token);

CREATE TABLE IF NOT EXISTS _events (
    id          TEXT PRIMARY KEY,
    trace_id    TEXT,
    span_id     TEXT,
    source      TEXT,
    component   TEXT,
    action      TEXT,
    entity      TEXT,
    record_id   TEXT,
    duration_ms REAL,
    status      TEXT,
    metadata    TEXT,
    created_at  TEXT DEFAULT (datetime('now'))
);
`
