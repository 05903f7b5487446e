package events

import (
	"context"
	"errors"

	"sentinel/internal/domain"
)

// Sink receives audit entries after they were committed. Delivery is best
// effort; errors are logged by the caller and never roll back a transition.
type Sink interface {
	Publish(ctx context.Context, entries []domain.SystemLog) error
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Publish(context.Context, []domain.SystemLog) error { return nil }

// Recorder keeps published entries in memory. Tests use it to observe fan-out.
type Recorder struct {
	ch chan domain.SystemLog
}

// NewRecorder buffers up to size entries.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan domain.SystemLog, size)}
}

func (r *Recorder) Publish(_ context.Context, entries []domain.SystemLog) error {
	for _, e := range entries {
		select {
		case r.ch <- e:
		default:
		}
	}
	return nil
}

// C exposes the recorded entries.
func (r *Recorder) C() <-chan domain.SystemLog { return r.ch }

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, entries []domain.SystemLog) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
