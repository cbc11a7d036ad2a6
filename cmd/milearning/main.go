package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/milearning/milearning/internal/auth"
	"github.com/milearning/milearning/internal/catalog"
	"github.com/milearning/milearning/internal/config"
	"github.com/milearning/milearning/internal/database"
	"github.com/milearning/milearning/internal/events"
	"github.com/milearning/milearning/internal/geoip"
	"github.com/milearning/milearning/internal/kv"
	"github.com/milearning/milearning/internal/logger"
	"github.com/milearning/milearning/internal/metrics"
	"github.com/milearning/milearning/internal/server"
	"github.com/milearning/milearning/internal/storage"
	"github.com/milearning/milearning/internal/video"
	"github.com/milearning/milearning/internal/videostate"
	"github.com/milearning/milearning/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg, err := config.Load(".", "/etc/milearning")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a fatal run error and flushes the logger before the process exits.
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("milearning stopped", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer store.close()

	videos, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	log.Info("catalog loaded", zap.Int("videos", videos.Len()))

	dir, err := auth.LoadDirectory(bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("load user directory: %w", err)
	}

	m := metrics.New()

	publisher, err := newPublisher(cfg.Events, log.Named("events"))
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(publisher, events.DefaultBuffer, log.Named("events"), events.WithObserver(m))

	geo := geoip.New(cfg.GeoIP.DBPath, log.Named("geoip"))
	defer func() { _ = geo.Close() }()

	stateOpts := []videostate.Option{videostate.WithThrottle(cfg.Progress.Throttle)}
	if cfg.Progress.PerVideo {
		stateOpts = append(stateOpts, videostate.WithPerVideoThrottle())
	}
	registry := videostate.NewRegistry(videos, stateOpts...)

	sessions := auth.NewSessions(dir, store, cfg.Auth.SessionKey,
		auth.WithDelay(cfg.Auth.Delay),
		auth.WithLogger(log.Named("auth")),
	)
	activity := video.NewActivity(registry,
		video.WithEvents(dispatcher),
		video.WithCountryResolver(geo),
		video.WithMetrics(m),
		video.WithLogger(log.Named("activity")),
	)
	activity.Bind(sessions)

	authHandler := auth.NewHandler(sessions, cfg.Server.JWTSecret, log.Named("auth"), m)
	if cfg.Storage.Endpoint != "" {
		avatars, err := storage.New(ctx, storage.Config{
			Endpoint:       cfg.Storage.Endpoint,
			PublicEndpoint: cfg.Storage.PublicEndpoint,
			Bucket:         cfg.Storage.Bucket,
			AccessKey:      cfg.Storage.AccessKey,
			SecretKey:      cfg.Storage.SecretKey,
			Region:         cfg.Storage.Region,
			MaxUploadBytes: cfg.Storage.MaxAvatarBytes,
		})
		if err != nil {
			return fmt.Errorf("storage initialization failed: %w", err)
		}
		if err := avatars.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("storage bucket check failed: %w", err)
		}
		authHandler.SetAvatarStorage(avatars)
		log.Info("avatar storage ready", zap.String("bucket", cfg.Storage.Bucket))
	}

	var webFS fs.FS
	if cfg.Server.WebDir != "" {
		webFS = os.DirFS(cfg.Server.WebDir)
		log.Info("serving web client", zap.String("dir", cfg.Server.WebDir))
	}

	srv := server.New(server.Config{
		Auth:            authHandler,
		Videos:          video.NewHandler(registry, log.Named("video"), m),
		Activity:        activity,
		Metrics:         m,
		Logger:          log.Named("http"),
		Pinger:          store.pinger,
		WebFS:           webFS,
		BaseURL:         cfg.Server.BaseURL,
		StorageEndpoint: cfg.Storage.PublicEndpoint,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("milearning listening", zap.Int("port", cfg.Server.Port), zap.String("store", cfg.Store.Backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-shutdownCh:
	}
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("event publisher did not close cleanly", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// sessionStore is the configured kv backend plus its health check and cleanup.
type sessionStore struct {
	kv.Store
	pinger server.Pinger
	close  func()
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (*sessionStore, error) {
	switch cfg.Backend {
	case "memory":
		return &sessionStore{Store: kv.NewMemory(), close: func() {}}, nil

	case "file":
		f, err := kv.NewFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open session file: %w", err)
		}
		log.Info("session store ready", zap.String("backend", "file"), zap.String("path", cfg.FilePath))
		return &sessionStore{Store: f, close: func() {}}, nil

	case "postgres":
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			db.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		log.Info("session store ready", zap.String("backend", "postgres"))
		return &sessionStore{Store: kv.NewPostgres(db.Pool), pinger: db, close: db.Close}, nil

	case "redis":
		opts, err := kv.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("session store ready", zap.String("backend", "redis"), zap.String("addr", opts.Addr))
		return &sessionStore{
			Store:  kv.NewRedis(client, cfg.RedisPrefix, cfg.TTL),
			pinger: pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
			close:  func() { _ = client.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newPublisher combines every configured sink. With none configured events are discarded.
func newPublisher(cfg config.EventsConfig, log *zap.Logger) (events.Publisher, error) {
	var sinks []events.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(events.AMQPConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.Exchange,
			RoutingKey: cfg.RoutingKey,
		}, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, amqpPub)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, webhook.New(cfg.WebhookURL, cfg.WebhookSecret, log.Named("webhook")))
	}

	switch len(sinks) {
	case 0:
		log.Info("no event sink configured, activity events are discarded")
		return events.Noop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return events.NewMulti(log, sinks...), nil
	}
}
