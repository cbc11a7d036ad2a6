package video

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/milearning/milearning/internal/auth"
	"github.com/milearning/milearning/internal/catalog"
	"github.com/milearning/milearning/internal/events"
	"github.com/milearning/milearning/internal/kv"
	"github.com/milearning/milearning/internal/videostate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret = "test-jwt-secret-key"
	iPhoneUA   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []events.Event
}

func (s *fakeSender) Send(e events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, e)
	return true
}

func (s *fakeSender) events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.sent...)
}

type fakeGeo struct{}

func (fakeGeo) Country(ip string) string {
	if ip == "203.0.113.7" {
		return "DE"
	}
	return ""
}

type testEnv struct {
	router   http.Handler
	sessions *auth.Sessions
	registry *videostate.Registry
	sender   *fakeSender
	clock    *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	c, err := catalog.New([]catalog.Video{
		{ID: "1", Title: "Intro to Photosynthesis", Category: "Science", Likes: 1500},
		{ID: "2", Title: "Algebra Basics", Category: "Math"},
		{ID: "3", Title: "French Greetings", Description: "Bonjour and more", Category: "Language"},
	})
	require.NoError(t, err)

	dir, err := auth.NewDirectory([]auth.SeedUser{
		{ID: "user_1", Username: "alice", Password: "secret", Email: "alice@example.com", Name: "Alice", SavedVideos: []string{"3"}, LikedVideos: []string{"2"}},
	}, bcrypt.MinCost)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	sessions := auth.NewSessions(dir, kv.NewMemory(), auth.DefaultSessionKey, auth.WithDelay(0))
	registry := videostate.NewRegistry(c, videostate.WithClock(clock))
	sender := &fakeSender{}
	activity := NewActivity(registry, WithEvents(sender), WithCountryResolver(fakeGeo{}), WithClock(clock))
	activity.Bind(sessions)

	authHandler := auth.NewHandler(sessions, testSecret, nil, nil)
	videos := NewHandler(registry, nil, nil)

	r := chi.NewRouter()
	r.Post("/api/auth/login", authHandler.Login)
	r.With(authHandler.Middleware).Post("/api/auth/logout", authHandler.Logout)
	r.Group(func(r chi.Router) {
		r.Use(authHandler.Optional)
		r.Get("/api/categories", videos.Categories)
		r.Get("/api/videos", videos.List)
		r.Get("/api/videos/random", videos.Random)
		r.Get("/api/videos/{id}", videos.Get)
	})
	r.Group(func(r chi.Router) {
		r.Use(authHandler.Middleware)
		r.Use(activity.Track)
		r.Post("/api/videos/{id}/save", videos.ToggleSave)
		r.Post("/api/videos/{id}/like", videos.ToggleLike)
		r.Post("/api/videos/{id}/progress", videos.Progress)
		r.Get("/api/me/saved", videos.Saved)
		r.Get("/api/me/liked", videos.Liked)
		r.Get("/api/me/watched", videos.Watched)
		r.Get("/api/me/progress", videos.ProgressSummary)
	})

	return &testEnv{router: r, sessions: sessions, registry: registry, sender: sender, clock: clock}
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", iPhoneUA)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

type listBody struct {
	Videos []struct {
		ID         string               `json:"id"`
		Saved      bool                 `json:"saved"`
		Liked      bool                 `json:"liked"`
		LikesLabel string               `json:"likesLabel"`
		Progress   *videostate.Progress `json:"progress"`
	} `json:"videos"`
	Query    string `json:"query"`
	Category string `json:"category"`
	Total    int    `json:"total"`
}

func ids(body listBody) []string {
	out := make([]string, 0, len(body.Videos))
	for _, v := range body.Videos {
		out = append(out, v.ID)
	}
	return out
}

func TestList_Anonymous(t *testing.T) {
	env := newTestEnv(t)

	body := decode[listBody](t, env.do(t, http.MethodGet, "/api/videos", "", ""))
	assert.Equal(t, []string{"1", "2", "3"}, ids(body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, "1.5K", body.Videos[0].LikesLabel)

	body = decode[listBody](t, env.do(t, http.MethodGet, "/api/videos?q=BONJOUR", "", ""))
	assert.Equal(t, []string{"3"}, ids(body))

	body = decode[listBody](t, env.do(t, http.MethodGet, "/api/videos?category=science", "", ""))
	assert.Empty(t, body.Videos, "category match is case-sensitive")

	body = decode[listBody](t, env.do(t, http.MethodGet, "/api/videos?category=Science", "", ""))
	assert.Equal(t, []string{"1"}, ids(body))
	assert.Equal(t, 0, env.registry.Len(), "anonymous requests keep no state")
}

func TestList_QueryTooLong(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/videos?q="+strings.Repeat("a", 201), "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestList_AuthenticatedKeepsFilterAndFlags(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	body := decode[listBody](t, env.do(t, http.MethodGet, "/api/videos?category=Language", token, ""))
	require.Equal(t, []string{"3"}, ids(body))
	assert.True(t, body.Videos[0].Saved, "restored from alice's profile")

	cats := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/categories", token, ""))
	assert.Equal(t, "Language", cats["active"])
}

func TestGet(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/videos/2", "", "").Code)
	rec := env.do(t, http.MethodGet, "/api/videos/99", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRandom(t *testing.T) {
	env := newTestEnv(t)

	body := decode[listBody](t, env.do(t, http.MethodGet, "/api/videos/random?count=2", "", ""))
	assert.Len(t, body.Videos, 2)

	body = decode[listBody](t, env.do(t, http.MethodGet, "/api/videos/random?count=40", "", ""))
	assert.Len(t, body.Videos, 3)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/videos/random?count=zero", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/videos/random?count=0", "", "").Code)
}

func TestToggleSave_PersistsAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/videos/1/save", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["saved"])

	saved := decode[listBody](t, env.do(t, http.MethodGet, "/api/me/saved", token, ""))
	assert.Equal(t, []string{"1", "3"}, ids(saved))

	claims, err := auth.ValidateToken(testSecret, token)
	require.NoError(t, err)
	store, err := env.sessions.Get(context.Background(), claims.SessionID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"3", "1"}, store.Current().SavedVideos)

	sent := env.sender.events()
	require.Len(t, sent, 1)
	assert.Equal(t, events.VideoSaved, sent[0].Type)
	assert.Equal(t, "1", sent[0].VideoID)
	assert.Equal(t, "user_1", sent[0].UserID)
	assert.Equal(t, "mobile", sent[0].Device)
	assert.Equal(t, "DE", sent[0].Country)
}

func TestToggleLike_Twice(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	assert.Equal(t, true, decode[map[string]any](t, env.do(t, http.MethodPost, "/api/videos/1/like", token, ""))["liked"])
	assert.Equal(t, false, decode[map[string]any](t, env.do(t, http.MethodPost, "/api/videos/1/like", token, ""))["liked"])

	liked := decode[listBody](t, env.do(t, http.MethodGet, "/api/me/liked", token, ""))
	assert.Equal(t, []string{"2"}, ids(liked))

	sent := env.sender.events()
	require.Len(t, sent, 2)
	assert.Equal(t, events.VideoLiked, sent[0].Type)
	assert.Equal(t, events.VideoUnliked, sent[1].Type)
}

func TestToggle_UnknownVideoAndAnonymous(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/videos/404/save", token, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/videos/1/save", "", "").Code)
	assert.Empty(t, env.sender.events())
}

func TestProgress(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/videos/1/progress", token, `{"fraction":0.96}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Accepted bool                `json:"accepted"`
		Progress videostate.Progress `json:"progress"`
	}](t, rec)
	assert.True(t, resp.Accepted)
	assert.True(t, resp.Progress.Completed)

	rec = env.do(t, http.MethodPost, "/api/videos/2/progress", token, `{"currentTime":30,"duration":60}`)
	assert.Equal(t, false, decode[map[string]any](t, rec)["accepted"], "throttled within one second")

	env.clock.Advance(videostate.DefaultThrottle)
	rec = env.do(t, http.MethodPost, "/api/videos/2/progress", token, `{"currentTime":30,"duration":60}`)
	assert.Equal(t, true, decode[map[string]any](t, rec)["accepted"])

	watched := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/me/watched", token, ""))
	assert.Equal(t, []any{"1", "2"}, watched["ids"])

	summary := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/me/progress", token, ""))
	assert.InDelta(t, (0.96+0.5)/3, summary["overall"], 1e-9)

	sent := env.sender.events()
	require.Len(t, sent, 2)
	assert.Equal(t, events.ProgressRecorded, sent[0].Type)
	assert.True(t, sent[0].Completed)
	assert.InDelta(t, 0.5, sent[1].Fraction, 1e-9)
}

func TestProgress_BadBodies(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	for _, body := range []string{`{}`, `{"currentTime":3}`, `{"currentTime":3,"duration":0}`, `not json`} {
		rec := env.do(t, http.MethodPost, "/api/videos/1/progress", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestLogout_DropsSessionState(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	env.do(t, http.MethodPost, "/api/videos/1/save", token, "")
	require.Equal(t, 1, env.registry.Len())

	rec := env.do(t, http.MethodPost, "/api/auth/logout", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 0, env.registry.Len())
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/me/saved", token, "").Code)
}
