package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestLimiter(t *testing.T, rate float64, burst int) (*Limiter, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	limiter := NewLimiter(rate, burst, WithClock(clock))
	t.Cleanup(limiter.Stop)
	return limiter, clock
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewLimiterAllowsFirstRequest(t *testing.T) {
	limiter, _ := newTestLimiter(t, 10, 5)

	if !limiter.allow("192.168.1.1") {
		t.Error("expected first request from new IP to be allowed")
	}
}

func TestRequestsExceedingBurstAreDenied(t *testing.T) {
	burst := 3
	limiter, _ := newTestLimiter(t, 1, burst)

	for i := 0; i < burst; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d within burst of %d should be allowed", i+1, burst)
		}
	}

	if limiter.allow("192.168.1.1") {
		t.Error("request exceeding burst should be denied")
	}
}

func TestTokensReplenishOverTime(t *testing.T) {
	limiter, clock := newTestLimiter(t, 10, 2)

	limiter.allow("192.168.1.1")
	limiter.allow("192.168.1.1")
	if limiter.allow("192.168.1.1") {
		t.Fatal("expected request to be denied after exhausting burst")
	}

	// At 10 tokens/sec, 150ms gives ~1.5 tokens.
	clock.Advance(150 * time.Millisecond)

	if !limiter.allow("192.168.1.1") {
		t.Error("expected request to be allowed after token replenishment")
	}
}

func TestTokensDoNotExceedBurst(t *testing.T) {
	burst := 3
	limiter, clock := newTestLimiter(t, 100, burst)

	limiter.allow("192.168.1.1")
	clock.Advance(time.Minute)

	allowed := 0
	for i := 0; i < burst+2; i++ {
		if limiter.allow("192.168.1.1") {
			allowed++
		}
	}

	if allowed != burst {
		t.Errorf("expected %d requests allowed, got %d", burst, allowed)
	}
}

func TestDifferentIPsHaveIndependentLimits(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 1)

	limiter.allow("10.0.0.1")
	if limiter.allow("10.0.0.1") {
		t.Error("expected second request from first IP to be denied")
	}
	if !limiter.allow("10.0.0.2") {
		t.Error("expected first request from second IP to be allowed")
	}
}

func TestCleanupRemovesIdleVisitors(t *testing.T) {
	limiter, clock := newTestLimiter(t, 1, 1)
	limiter.allow("10.0.0.1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("cleanup goroutine never waited: %v", err)
		}
		clock.Advance(cleanupInterval)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		limiter.mu.Lock()
		n := len(limiter.visitors)
		limiter.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expected idle visitor to be removed")
}

func TestMiddlewareReturns429WhenRateLimited(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 1)
	handler := limiter.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "192.168.1.1:12345"
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.RemoteAddr = "192.168.1.1:23456"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, second)

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Retry-After"); got != "10" {
		t.Errorf("expected Retry-After=10, got %s", got)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "too many requests" {
		t.Errorf("unexpected error %q", body.Error)
	}
}

func TestMiddlewareRespectsXForwardedForHeader(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 1)
	handler := limiter.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.99:1234"
	first.Header.Set("X-Forwarded-For", "203.0.113.50")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.RemoteAddr = "10.0.0.100:5678"
	second.Header.Set("X-Forwarded-For", "203.0.113.50")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, second)

	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for same X-Forwarded-For IP, got %d", recorder.Code)
	}
}

func TestMiddlewareDoesNotCallNextHandlerWhenRateLimited(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 1)
	callCount := 0

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(httptest.NewRecorder(), request)
	}

	if callCount != 1 {
		t.Errorf("expected next handler called 1 time, got %d", callCount)
	}
}
