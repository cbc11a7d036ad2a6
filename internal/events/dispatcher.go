package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBuffer         = 256
	DefaultPublishTimeout = 10 * time.Second
)

var errBufferFull = errors.New("event buffer full")

// PublishObserver is told the outcome of every publish. *metrics.Metrics satisfies it.
type PublishObserver interface {
	EventPublished(eventType string, err error)
}

// Dispatcher hands events to a Publisher on a background goroutine so request
// handlers never wait on the broker. Events are dropped when the buffer is full.
type Dispatcher struct {
	pub      Publisher
	log      *zap.Logger
	observer PublishObserver
	timeout  time.Duration

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

type DispatcherOption func(*Dispatcher)

func WithObserver(o PublishObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func NewDispatcher(pub Publisher, buffer int, log *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		pub:     pub,
		log:     log,
		timeout: DefaultPublishTimeout,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Send queues e and reports whether it was accepted.
func (d *Dispatcher) Send(e Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		d.log.Warn("event buffer full, dropping event", zap.String("type", string(e.Type)))
		d.observe(e, errBufferFull)
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.pub.Publish(ctx, e)
		cancel()
		if err != nil {
			d.log.Error("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
		}
		d.observe(e, err)
	}
}

func (d *Dispatcher) observe(e Event, err error) {
	if d.observer != nil {
		d.observer.EventPublished(string(e.Type), err)
	}
}

// Close drains the queue, waiting until ctx is done at the latest, then
// closes the publisher.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.log.Warn("event queue not drained before shutdown")
	}
	return d.pub.Close()
}
