package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/milearning/milearning/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(t *testing.T, m *metrics.Metrics) (chi.Router, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	r := chi.NewRouter()
	r.Use(requestLogger(zap.New(core), m))
	return r, logs
}

func TestRequestLogger_LogsRequest(t *testing.T) {
	r, logs := newLoggedRouter(t, nil)
	r.Get("/api/videos/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/videos/7", nil))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/api/videos/7", fields["path"])
	assert.Equal(t, "/api/videos/{id}", fields["route"])
	assert.EqualValues(t, 200, fields["status"])
	assert.Contains(t, fields, "duration_ms")
	assert.Contains(t, fields, "remote_addr")
}

func TestRequestLogger_SkipsHealthAndMetrics(t *testing.T) {
	r, logs := newLoggedRouter(t, nil)
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	r.Get("/api/health", ok)
	r.Get("/metrics", ok)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 0, logs.Len())
}

func TestRequestLogger_LogsNon200AndUnmatched(t *testing.T) {
	m := metrics.New()
	r, logs := newLoggedRouter(t, m)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 404, entries[0].ContextMap()["status"])
	assert.Equal(t, "unmatched", entries[0].ContextMap()["route"])

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `route="unmatched"`)
}
