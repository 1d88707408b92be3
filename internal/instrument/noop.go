package instrument

import "context"

// NoopInstrumenter discards all spans. Used when instrumentation is
// disabled.
type NoopInstrumenter struct{}

func (n *NoopInstrumenter) StartSpan(ctx context.Context, component, action string) (context.Context, Span) {
	return ctx, &NoopSpan{}
}

// NoopSpan discards all data.
type NoopSpan struct{}

func (n *NoopSpan) Record(entity, recordID string) {}
func (n *NoopSpan) End(err error)                  {}
