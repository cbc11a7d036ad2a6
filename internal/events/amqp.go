package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const confirmTimeout = 5 * time.Second

var ErrNotAcknowledged = errors.New("message was not acknowledged by broker")

type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AMQPPublisher publishes events to a durable topic exchange with publisher
// confirms. Publishes are serialized so each confirmation matches its message.
type AMQPPublisher struct {
	cfg AMQPConfig
	log *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
}

func NewAMQPPublisher(cfg AMQPConfig, log *zap.Logger) (*AMQPPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &AMQPPublisher{cfg: cfg, log: log}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	p.log.Info("connected to broker",
		zap.String("exchange", p.cfg.Exchange),
		zap.String("routingKey", p.cfg.RoutingKey),
	)
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return errors.New("channel is not initialized")
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.cfg.Exchange,
		p.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    e.OccurredAt,
			MessageId:    e.ID.String(),
			Type:         string(e.Type),
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			return errors.New("channel closed before confirmation")
		}
		if !confirm.Ack {
			return ErrNotAcknowledged
		}
	case <-time.After(confirmTimeout):
		return errors.New("timeout waiting for publish confirmation")
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Debug("published event",
		zap.String("eventId", e.ID.String()),
		zap.String("type", string(e.Type)),
	)
	return nil
}

// Healthy reports an open connection and channel.
func (p *AMQPPublisher) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, err)
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		p.conn = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	p.log.Info("broker publisher closed")
	return nil
}
