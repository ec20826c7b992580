package position

import (
	"context"
	"errors"
	"fmt"
)

// Sink persists emitted records. Delivery is best effort, a failed record is not retried.
type Sink interface {
	Store(ctx context.Context, r Record) error
}

type SinkFunc func(ctx context.Context, r Record) error

func (f SinkFunc) Store(ctx context.Context, r Record) error {
	return f(ctx, r)
}

// NamedSink labels the errors of a sink
type NamedSink struct {
	Name string
	Sink Sink
}

// Sinks hands a record to every sink, one failing sink does not stop the others
type Sinks []NamedSink

func (s Sinks) Store(ctx context.Context, r Record) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Sink.Store(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}
