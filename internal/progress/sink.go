package progress

import (
	"context"
	"errors"
)

// Sink consumes crawl progress events. Emit is called synchronously on the
// session goroutine, so implementations must return quickly and honor ctx.
// A Sink may be invoked concurrently for different sessions.
type Sink interface {
	Emit(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// MultiSink fans each event out to every registered sink in order. Every
// sink sees every event even when an earlier sink fails; errors are joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a fan-out sink over the given sinks. Nil entries are
// ignored.
func NewMultiSink(sinks ...Sink) *MultiSink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiSink{sinks: kept}
}

// Emit delivers evt to every sink and joins any errors. Delivery stops
// early once ctx finishes so an abandoned emit does not keep walking the
// remaining sinks.
func (m *MultiSink) Emit(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Emit(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins any errors.
func (m *MultiSink) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopSink discards every event. Useful in tests and for CLI runs that only
// want log output.
type NopSink struct{}

// Emit implements the Sink interface; it performs no action.
func (NopSink) Emit(context.Context, Event) error { return nil }

// Close implements the Sink interface; it performs no action.
func (NopSink) Close(context.Context) error { return nil }
