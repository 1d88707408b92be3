package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"formflow-backend/internal/metadata"
	"formflow-backend/internal/store"
)

var notifyHTTPClient = &http.Client{Timeout: 30 * time.Second}

// NotificationEvent is what the engine emits after a committed action.
type NotificationEvent struct {
	RequestID   string
	EventKey    string
	NewStatus   string
	TriggeredBy string
	CreatorID   string
	Variables   map[string]string
}

// Notifier receives events after commit. Implementations must log their
// own failures; the engine never waits on them.
type Notifier interface {
	Dispatch(ctx context.Context, ev *NotificationEvent)
}

// Dispatcher resolves the notification setting for an event, evaluates its
// condition, resolves recipients and message templates, and delivers over
// the enabled channels (in-app rows and/or webhook POST).
type Dispatcher struct {
	store    *store.Store
	registry *metadata.Registry
	baseURL  string
}

func NewDispatcher(s *store.Store, reg *metadata.Registry, baseURL string) *Dispatcher {
	return &Dispatcher{store: s, registry: reg, baseURL: strings.TrimRight(baseURL, "/")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev *NotificationEvent) {
	setting := d.registry.GetNotificationSetting(ev.EventKey)
	if setting == nil {
		return
	}

	fire, err := evaluateNotificationCondition(setting, ev)
	if err != nil {
		log.Printf("ERROR: notification %s condition: %v", ev.EventKey, err)
		return
	}
	if !fire {
		return
	}

	vars := ev.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	if d.baseURL != "" {
		vars["request_url"] = d.baseURL + "/requests/" + ev.RequestID
	}

	title := ResolveTemplate(setting.TitleTemplate, vars)
	message := ResolveTemplate(setting.MessageTemplate, vars)

	if setting.InApp {
		recipients, err := d.resolveRecipients(ctx, setting, ev)
		if err != nil {
			log.Printf("ERROR: notification %s recipients: %v", ev.EventKey, err)
		} else {
			d.insertInApp(ctx, ev, recipients, title, message)
		}
	}

	if setting.Webhook && setting.WebhookURL != "" {
		d.deliverWebhook(ctx, setting.WebhookURL, ev, title, message)
	}
}

// evaluateNotificationCondition runs the setting's expr condition with the
// event fields as environment. Empty condition means always fire. Compiled
// programs are cached on the setting.
func evaluateNotificationCondition(setting *metadata.NotificationSetting, ev *NotificationEvent) (bool, error) {
	if setting.Condition == "" {
		return true, nil
	}

	env := map[string]any{
		"event":        ev.EventKey,
		"new_status":   ev.NewStatus,
		"triggered_by": ev.TriggeredBy,
		"variables":    ev.Variables,
	}

	compiled, err := setting.CompileCondition(func(condition string) (any, error) {
		return expr.Compile(condition, expr.AsBool())
	})
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}
	result, err := expr.Run(compiled.(*vm.Program), env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return bool")
	}
	return b, nil
}

// resolveRecipients loads active users holding any target role, plus the
// creator when include_creator is set. The actor is never notified about
// their own action. Role matching runs in Go so both dialects share one
// query.
func (d *Dispatcher) resolveRecipients(ctx context.Context, setting *metadata.NotificationSetting, ev *NotificationEvent) ([]string, error) {
	seen := map[string]bool{}
	var recipients []string
	add := func(id string) {
		if id == "" || id == ev.TriggeredBy || seen[id] {
			return
		}
		seen[id] = true
		recipients = append(recipients, id)
	}

	if len(setting.TargetRoles) > 0 {
		rows, err := store.QueryRows(ctx, d.store.DB,
			"SELECT id, roles FROM _users WHERE active = "+d.store.Dialect.Placeholder(1), true)
		if err != nil {
			return nil, err
		}
		wanted := map[string]bool{}
		for _, r := range setting.TargetRoles {
			wanted[r] = true
		}
		for _, row := range rows {
			roles, err := d.store.Dialect.ScanArray(row["roles"])
			if err != nil {
				continue
			}
			for _, role := range roles {
				if wanted[role] {
					add(asString(row["id"]))
					break
				}
			}
		}
	}

	if setting.IncludeCreator {
		add(ev.CreatorID)
	}
	return recipients, nil
}

func (d *Dispatcher) insertInApp(ctx context.Context, ev *NotificationEvent, recipients []string, title, message string) {
	for _, userID := range recipients {
		pb := d.store.Dialect.NewParamBuilder()
		sqlStr := fmt.Sprintf(`INSERT INTO _notifications (id, user_id, request_id, event_key, title, message)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			pb.Add(store.GenerateUUID()), pb.Add(userID), pb.Add(nilIfEmpty(ev.RequestID)),
			pb.Add(ev.EventKey), pb.Add(title), pb.Add(message))
		if _, err := store.Exec(ctx, d.store.DB, sqlStr, pb.Params()...); err != nil {
			log.Printf("ERROR: insert notification for %s: %v", userID, err)
		}
	}
}

// WebhookPayload is the JSON body sent to the notification webhook.
type WebhookPayload struct {
	Event          string            `json:"event"`
	RequestID      string            `json:"request_id"`
	NewStatus      string            `json:"new_status,omitempty"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	TriggeredBy    string            `json:"triggered_by,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	Timestamp      string            `json:"timestamp"`
	IdempotencyKey string            `json:"idempotency_key"`
}

func (d *Dispatcher) deliverWebhook(ctx context.Context, url string, ev *NotificationEvent, title, message string) {
	payload := &WebhookPayload{
		Event:          ev.EventKey,
		RequestID:      ev.RequestID,
		NewStatus:      ev.NewStatus,
		Title:          title,
		Message:        message,
		TriggeredBy:    ev.TriggeredBy,
		Variables:      ev.Variables,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		IdempotencyKey: "nt_" + uuid.New().String(),
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("ERROR: notification webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		log.Printf("ERROR: notification webhook %s: %v", url, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("ERROR: notification webhook %s returned HTTP %d", url, resp.StatusCode)
	}
}

// ResolveTemplate substitutes {name} placeholders with variable values.
// Unknown placeholders are left in place.
func ResolveTemplate(tmpl string, vars map[string]string) string {
	if tmpl == "" {
		return ""
	}
	out := tmpl
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}
