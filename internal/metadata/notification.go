package metadata

import "sync"

// Notification event keys. Status changes resolve to "status_to_{status}".
const (
	EventStepApproved     = "step_approved"
	EventLevelAdvanced    = "level_advanced"
	EventNewComment       = "new_comment"
	EventApprovalReminder = "approval_reminder"
	EventStatusPrefix     = "status_to_"
)

// StatusEventKey returns the notification event key for a status change.
func StatusEventKey(newStatus string) string {
	return EventStatusPrefix + newStatus
}

// NotificationSetting configures the fan-out for one event key: who gets
// notified, over which channels, and with which message templates.
// Templates may reference {user_name}, {request_title}, {request_number},
// {template_name}, {new_status}, {comment} and {request_url}.
type NotificationSetting struct {
	ID              string   `json:"id"`
	EventKey        string   `json:"event_key"`
	TargetRoles     []string `json:"target_roles,omitempty"`
	IncludeCreator  bool     `json:"include_creator"`
	InApp           bool     `json:"in_app"`
	Webhook         bool     `json:"webhook"`
	WebhookURL      string   `json:"webhook_url,omitempty"`
	TitleTemplate   string   `json:"title_template,omitempty"`
	MessageTemplate string   `json:"message_template,omitempty"`
	Condition       string   `json:"condition,omitempty"` // expr condition, empty = always
	Active          bool     `json:"active"`

	compiled    any
	compileErr  error
	compileOnce sync.Once
}

// CompileCondition returns the compiled form of Condition, invoking fn at
// most once per setting. Dispatch runs on its own goroutine per event, so
// the cache has to be safe for concurrent callers.
func (s *NotificationSetting) CompileCondition(fn func(condition string) (any, error)) (any, error) {
	s.compileOnce.Do(func() {
		s.compiled, s.compileErr = fn(s.Condition)
	})
	return s.compiled, s.compileErr
}
