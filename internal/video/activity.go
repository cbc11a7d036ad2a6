package video

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/milearning/milearning/internal/auth"
	"github.com/milearning/milearning/internal/device"
	"github.com/milearning/milearning/internal/events"
	"github.com/milearning/milearning/internal/httputil"
	"github.com/milearning/milearning/internal/metrics"
	"github.com/milearning/milearning/internal/videostate"
	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

// EventSender queues activity events. *events.Dispatcher satisfies it.
type EventSender interface {
	Send(e events.Event) bool
}

// CountryResolver maps a client address to an ISO country code. *geoip.Resolver satisfies it.
type CountryResolver interface {
	Country(ip string) string
}

type client struct {
	device  device.Class
	country string
}

// Activity ties auth sessions to their video state. A login or restore loads
// the user's lists into the session state, and every accepted mutation is
// written back to the profile and published as an event.
type Activity struct {
	registry *videostate.Registry
	events   EventSender
	geo      CountryResolver
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	log      *zap.Logger

	mu      sync.Mutex
	stores  map[string]*auth.Store
	clients map[string]client
}

type ActivityOption func(*Activity)

func WithEvents(s EventSender) ActivityOption {
	return func(a *Activity) { a.events = s }
}

func WithCountryResolver(r CountryResolver) ActivityOption {
	return func(a *Activity) { a.geo = r }
}

func WithMetrics(m *metrics.Metrics) ActivityOption {
	return func(a *Activity) { a.metrics = m }
}

func WithClock(c clockwork.Clock) ActivityOption {
	return func(a *Activity) { a.clock = c }
}

func WithLogger(l *zap.Logger) ActivityOption {
	return func(a *Activity) { a.log = l }
}

func NewActivity(registry *videostate.Registry, opts ...ActivityOption) *Activity {
	a := &Activity{
		registry: registry,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
		stores:   make(map[string]*auth.Store),
		clients:  make(map[string]client),
	}
	for _, opt := range opts {
		opt(a)
	}
	registry.SetListenerFactory(a.listenerFor)
	return a
}

// Bind hooks session creation and removal.
func (a *Activity) Bind(sessions *auth.Sessions) {
	sessions.OnCreate(func(sessionID string, store *auth.Store) {
		a.mu.Lock()
		a.stores[sessionID] = store
		active := len(a.stores)
		a.mu.Unlock()
		a.metrics.SetActiveSessions(active)

		store.OnUserChange(func(p *auth.Profile) {
			state := a.registry.Get(sessionID)
			if p == nil {
				state.ResetForUser(nil, nil)
				return
			}
			state.ResetForUser(p.SavedVideos, p.LikedVideos)
		})
	})
	sessions.OnDrop(a.forget)
}

func (a *Activity) forget(sessionID string) {
	a.mu.Lock()
	delete(a.stores, sessionID)
	delete(a.clients, sessionID)
	active := len(a.stores)
	a.mu.Unlock()
	a.registry.Drop(sessionID)
	a.metrics.SetActiveSessions(active)
}

// Track records the device class and country of authenticated requests so
// events from the session carry them.
func (a *Activity) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionID := auth.SessionIDFromContext(r.Context()); sessionID != "" {
			c := client{device: device.Parse(r.UserAgent()).Class}
			if a.geo != nil {
				c.country = a.geo.Country(httputil.ClientIP(r))
			}
			a.mu.Lock()
			a.clients[sessionID] = c
			a.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Activity) listenerFor(sessionID string) videostate.Listener {
	return videostate.ListenerFuncs{
		OnSaved: func(saved []string, videoID string, on bool) {
			a.metrics.Toggle("saved", on)
			a.persist(sessionID, saved, a.registry.Get(sessionID).Liked())
			a.publish(sessionID, events.New(events.Toggle("saved", on), sessionID, videoID, a.clock.Now()))
		},
		OnLiked: func(liked []string, videoID string, on bool) {
			a.metrics.Toggle("liked", on)
			a.persist(sessionID, a.registry.Get(sessionID).Saved(), liked)
			a.publish(sessionID, events.New(events.Toggle("liked", on), sessionID, videoID, a.clock.Now()))
		},
		OnProgress: func(videoID string, p videostate.Progress) {
			e := events.New(events.ProgressRecorded, sessionID, videoID, a.clock.Now())
			e.Fraction = p.LastPosition
			e.Completed = p.Completed
			a.publish(sessionID, e)
		},
	}
}

// persist writes the lists back to the logged-in profile. Failures only log:
// the in-memory state stays as toggled.
func (a *Activity) persist(sessionID string, saved, liked []string) {
	a.mu.Lock()
	store := a.stores[sessionID]
	a.mu.Unlock()
	if store == nil || !store.IsAuthenticated() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := store.SyncLists(ctx, saved, liked); err != nil {
		a.log.Warn("failed to persist video lists", zap.String("session", sessionID), zap.Error(err))
	}
}

func (a *Activity) publish(sessionID string, e events.Event) {
	if a.events == nil {
		return
	}
	a.mu.Lock()
	store := a.stores[sessionID]
	c := a.clients[sessionID]
	a.mu.Unlock()

	if store != nil {
		if user := store.Current(); user != nil {
			e.UserID = user.ID
		}
	}
	e.Device = string(c.device)
	e.Country = c.country
	a.events.Send(e)
}
