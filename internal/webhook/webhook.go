// Package webhook delivers activity events to an HTTP endpoint with an HMAC signature.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/milearning/milearning/internal/events"
)

const (
	SignatureHeader      = "X-Webhook-Signature"
	EventHeader          = "X-Webhook-Event"
	maxResponseBodyBytes = 1024
)

var _ events.Publisher = (*Publisher)(nil)

var ErrClosed = errors.New("webhook publisher closed")

// Publisher posts each event as JSON, retrying failed deliveries.
type Publisher struct {
	url         string
	secret      string
	http        *http.Client
	retryDelays []time.Duration
	clock       clockwork.Clock
	log         *zap.Logger
	closed      chan struct{}
	closeOnce   sync.Once
}

type Option func(*Publisher)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.http = c }
}

// WithRetryDelays sets the waits between attempts. The attempt count is len(delays)+1.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(p *Publisher) { p.retryDelays = delays }
}

func WithClock(c clockwork.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

func New(url, secret string, log *zap.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		url:         url,
		secret:      secret,
		http:        &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 4 * time.Second},
		clock:       clockwork.NewRealClock(),
		log:         log,
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignPayload computes HMAC-SHA256 of the payload using the secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret.
func Verify(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(SignPayload(secret, payload)), []byte(signature))
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	signature := SignPayload(p.secret, body)
	maxAttempts := 1 + len(p.retryDelays)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, err := p.doPost(ctx, body, signature, string(e.Type))
		if err == nil && status >= 200 && status < 300 {
			p.log.Debug("webhook delivered",
				zap.String("event_id", e.ID.String()),
				zap.String("type", string(e.Type)),
				zap.Int("attempt", attempt))
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook returned status %d", status)
		}
		p.log.Warn("webhook delivery failed",
			zap.String("event_id", e.ID.String()),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.String("response", respBody),
			zap.Error(lastErr))

		if attempt < maxAttempts {
			select {
			case <-p.clock.After(p.retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			case <-p.closed:
				return ErrClosed
			}
		}
	}

	return lastErr
}

func (p *Publisher) doPost(ctx context.Context, body []byte, signature, eventType string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(EventHeader, eventType)

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBodyBytes)+1))
	respBody := string(respBytes)
	if len(respBody) > maxResponseBodyBytes {
		respBody = respBody[:maxResponseBodyBytes]
	}
	return resp.StatusCode, respBody, nil
}

// Close aborts pending retries. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
