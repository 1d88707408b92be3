package instrument

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"formflow-backend/internal/store"
)

// EventBuffer collects events in memory and periodically flushes them to
// the _events table in a batch insert. Losing a batch on crash is
// acceptable; blocking the request path is not.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	db      *sql.DB
	dialect store.Dialect
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(db *sql.DB, dialect store.Dialect, maxSize int, flushInterval time.Duration) *EventBuffer {
	eb := &EventBuffer{
		db:      db,
		dialect: dialect,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	eb.ticker = time.NewTicker(flushInterval)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event to the buffer. A full buffer triggers an async
// flush.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		go eb.Flush()
	}
}

// Flush writes all buffered events in a single batch insert.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	ctx := context.Background()
	pb := eb.dialect.NewParamBuilder()
	placeholders := make([]string, 0, len(batch))

	for _, e := range batch {
		var metaJSON any
		if e.Metadata != nil {
			b, _ := json.Marshal(e.Metadata)
			metaJSON = string(b)
		}
		placeholders = append(placeholders, fmt.Sprintf("(%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)",
			pb.Add(store.GenerateUUID()), pb.Add(e.TraceID), pb.Add(e.SpanID),
			pb.Add(e.Source), pb.Add(e.Component), pb.Add(e.Action),
			pb.Add(nullable(e.Entity)), pb.Add(nullable(e.RecordID)),
			pb.Add(e.DurationMs), pb.Add(e.Status), pb.Add(metaJSON)))
	}

	sqlStr := "INSERT INTO _events (id, trace_id, span_id, source, component, action, entity, record_id, duration_ms, status, metadata) VALUES " +
		strings.Join(placeholders, ",")
	if _, err := eb.db.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		log.Printf("ERROR: event buffer insert: %v", err)
	}
}

// Stop halts the background ticker and flushes remaining events.
func (eb *EventBuffer) Stop() {
	if eb.ticker != nil {
		eb.ticker.Stop()
	}
	close(eb.done)
	eb.Flush()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
