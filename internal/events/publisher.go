package events

import "context"

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	events chan Event
}

func NewRecorder(capacity int) *Recorder {
	return &Recorder{events: make(chan Event, capacity)}
}

func (r *Recorder) Publish(ctx context.Context, e Event) error {
	select {
	case r.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) Close() error { return nil }

// Events returns the channel published events are delivered on.
func (r *Recorder) Events() <-chan Event { return r.events }
