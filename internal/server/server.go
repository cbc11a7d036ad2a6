package server

import (
	"context"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/milearning/milearning/internal/auth"
	"github.com/milearning/milearning/internal/docs"
	"github.com/milearning/milearning/internal/metrics"
	"github.com/milearning/milearning/internal/ratelimit"
	"github.com/milearning/milearning/internal/video"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Auth     *auth.Handler
	Videos   *video.Handler
	Activity *video.Activity
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Pinger   Pinger
	WebFS    fs.FS

	BaseURL         string
	StorageEndpoint string
}

type Server struct {
	router   chi.Router
	log      *zap.Logger
	pinger   Pinger
	auth     *auth.Handler
	videos   *video.Handler
	activity *video.Activity
	metrics  *metrics.Metrics
	webFS    fs.FS
	limiters []*ratelimit.Limiter
}

func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log, cfg.Metrics))
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.StorageEndpoint,
	}))

	s := &Server{
		router:   r,
		log:      log,
		pinger:   cfg.Pinger,
		auth:     cfg.Auth,
		videos:   cfg.Videos,
		activity: cfg.Activity,
		metrics:  cfg.Metrics,
		webFS:    cfg.WebFS,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Routes() chi.Routes {
	return s.router
}

// Close stops the rate limiters' background cleanup.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) limiter(rps float64, burst int) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(rps, burst)
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/docs", docs.HandleDocs)
	s.router.Get("/api/docs/openapi.yaml", docs.HandleSpec)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	if s.auth != nil {
		authLimiter := s.limiter(0.5, 5)
		s.router.Route("/api/auth", func(r chi.Router) {
			r.With(authLimiter.Middleware).Post("/register", s.auth.Register)
			r.With(authLimiter.Middleware).Post("/login", s.auth.Login)
			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware)
				r.Post("/logout", s.auth.Logout)
				r.Get("/me", s.auth.Me)
				r.Patch("/me", s.auth.UpdateMe)
				r.Post("/avatar-upload", s.auth.AvatarUpload)
			})
		})
	}

	if s.auth != nil && s.videos != nil {
		videoLimiter := s.limiter(20, 40)
		track := func(next http.Handler) http.Handler { return next }
		if s.activity != nil {
			track = s.activity.Track
		}

		s.router.Group(func(r chi.Router) {
			r.Use(videoLimiter.Middleware)
			r.Use(s.auth.Optional)
			r.Get("/api/categories", s.videos.Categories)
			r.Get("/api/videos", s.videos.List)
			r.Get("/api/videos/random", s.videos.Random)
			r.Get("/api/videos/{id}", s.videos.Get)
		})

		s.router.Group(func(r chi.Router) {
			r.Use(videoLimiter.Middleware)
			r.Use(s.auth.Middleware)
			r.Use(track)
			r.Post("/api/videos/{id}/save", s.videos.ToggleSave)
			r.Post("/api/videos/{id}/like", s.videos.ToggleLike)
			r.Post("/api/videos/{id}/progress", s.videos.Progress)
			r.Get("/api/me/saved", s.videos.Saved)
			r.Get("/api/me/liked", s.videos.Liked)
			r.Get("/api/me/watched", s.videos.Watched)
			r.Get("/api/me/progress", s.videos.ProgressSummary)
		})
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"session store unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
