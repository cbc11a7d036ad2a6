package events

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var _ Publisher = (*Multi)(nil)

// Multi fans every event out to all registered publishers. A failing
// publisher is logged and does not stop delivery to the others.
type Multi struct {
	publishers []Publisher
	log        *zap.Logger
}

func NewMulti(log *zap.Logger, publishers ...Publisher) *Multi {
	if log == nil {
		log = zap.NewNop()
	}
	return &Multi{publishers: publishers, log: log}
}

func (m *Multi) Len() int { return len(m.publishers) }

// Publish returns an error only when every publisher failed.
func (m *Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, e); err != nil {
			m.log.Error("multi-publisher: publish failed",
				zap.String("type", string(e.Type)),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) == len(m.publishers) {
		return errors.Join(errs...)
	}
	return nil
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
