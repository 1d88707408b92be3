package instrument

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lightweight span recording into the _events table. Every engine action
// and HTTP request opens a span; spans from one request share a trace id
// carried through the context.

// Event is one row bound for _events.
type Event struct {
	TraceID    string
	SpanID     string
	Source     string
	Component  string
	Action     string
	Entity     string
	RecordID   string
	DurationMs float64
	Status     string
	Metadata   map[string]any
}

// Span records one timed operation.
type Span interface {
	// Record attaches the entity and record id the span acted on.
	Record(entity, recordID string)

	// End closes the span. A non-nil error marks it status=error.
	End(err error)
}

// Instrumenter opens spans. The returned context carries the trace id so
// nested spans group into one trace.
type Instrumenter interface {
	StartSpan(ctx context.Context, component, action string) (context.Context, Span)
}

type ctxKey int

const (
	instrumenterKey ctxKey = iota
	traceIDKey
)

// With stores the instrumenter on the context.
func With(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// Get returns the context's instrumenter, or a noop one.
func Get(ctx context.Context) Instrumenter {
	if inst, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return inst
	}
	return &NoopInstrumenter{}
}

// DBInstrumenter writes spans through an EventBuffer.
type DBInstrumenter struct {
	buffer *EventBuffer
	source string
}

func NewDBInstrumenter(buffer *EventBuffer, source string) *DBInstrumenter {
	return &DBInstrumenter{buffer: buffer, source: source}
}

func (i *DBInstrumenter) StartSpan(ctx context.Context, component, action string) (context.Context, Span) {
	traceID, _ := ctx.Value(traceIDKey).(string)
	if traceID == "" {
		traceID = uuid.New().String()
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	return ctx, &dbSpan{
		buffer: i.buffer,
		event: Event{
			TraceID:   traceID,
			SpanID:    uuid.New().String(),
			Source:    i.source,
			Component: component,
			Action:    action,
		},
		started: time.Now(),
	}
}

type dbSpan struct {
	buffer  *EventBuffer
	event   Event
	started time.Time
}

func (s *dbSpan) Record(entity, recordID string) {
	s.event.Entity = entity
	s.event.RecordID = recordID
}

func (s *dbSpan) End(err error) {
	s.event.DurationMs = float64(time.Since(s.started).Microseconds()) / 1000
	s.event.Status = "ok"
	if err != nil {
		s.event.Status = "error"
		s.event.Metadata = map[string]any{"error": err.Error()}
	}
	s.buffer.Enqueue(s.event)
}
