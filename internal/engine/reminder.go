package engine

import (
	"context"
	"log"
	"strconv"
	"time"

	"formflow-backend/internal/metadata"
	"formflow-backend/internal/store"
)

// ReminderScheduler periodically nudges reviewers about requests that have
// been sitting in review too long. It fires the approval_reminder event for
// each stale request; whether anyone is notified is up to the configured
// notification setting.
type ReminderScheduler struct {
	store    *store.Store
	registry *metadata.Registry
	requests RequestStore
	notifier Notifier

	interval   time.Duration
	staleAfter time.Duration
	ticker     *time.Ticker
	done       chan struct{}
}

func NewReminderScheduler(s *store.Store, reg *metadata.Registry, rs RequestStore, n Notifier, interval, staleAfter time.Duration) *ReminderScheduler {
	return &ReminderScheduler{
		store:      s,
		registry:   reg,
		requests:   rs,
		notifier:   n,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Start begins the background ticker.
func (rs *ReminderScheduler) Start() {
	rs.ticker = time.NewTicker(rs.interval)
	rs.done = make(chan struct{})
	go rs.run()
	log.Printf("Reminder scheduler started (%s interval, stale after %s)", rs.interval, rs.staleAfter)
}

// Stop halts the background ticker.
func (rs *ReminderScheduler) Stop() {
	if rs.ticker != nil {
		rs.ticker.Stop()
	}
	if rs.done != nil {
		close(rs.done)
	}
}

func (rs *ReminderScheduler) run() {
	for {
		select {
		case <-rs.done:
			return
		case <-rs.ticker.C:
			rs.ProcessReminders(context.Background())
		}
	}
}

// ProcessReminders fires approval_reminder for every stale in-review
// request.
func (rs *ReminderScheduler) ProcessReminders(ctx context.Context) {
	if rs.notifier == nil {
		return
	}
	stale, err := rs.requests.ListStaleInReview(ctx, rs.store.DB, rs.store.Dialect, rs.staleAfter)
	if err != nil {
		log.Printf("ERROR: reminder scheduler list stale requests: %v", err)
		return
	}
	for _, req := range stale {
		templateName := ""
		if t := rs.registry.GetTemplate(req.TemplateID); t != nil {
			templateName = t.Name
		}
		rs.notifier.Dispatch(ctx, &NotificationEvent{
			RequestID: req.ID,
			EventKey:  metadata.EventApprovalReminder,
			NewStatus: req.Status,
			CreatorID: req.CreatedBy,
			Variables: map[string]string{
				"request_title":  req.Title,
				"request_number": strconv.FormatInt(req.RequestNumber, 10),
				"template_name":  templateName,
				"new_status":     req.Status,
			},
		})
	}
}
