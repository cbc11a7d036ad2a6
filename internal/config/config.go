// Package config loads service configuration from an optional config.yaml and
// MILEARNING_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Auth     AuthConfig
	Progress ProgressConfig
	Events   EventsConfig
	Storage  StorageConfig
	GeoIP    GeoIPConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	BaseURL         string
	JWTSecret       string
	ShutdownTimeout time.Duration
	// WebDir holds the built web client. Empty serves the API only.
	WebDir string
}

// StoreConfig selects where session blobs are kept: memory, file, postgres or redis.
type StoreConfig struct {
	Backend     string
	FilePath    string
	DatabaseURL string
	RedisURL    string
	RedisPrefix string
	TTL         time.Duration
}

type AuthConfig struct {
	Delay      time.Duration
	SessionKey string
}

type ProgressConfig struct {
	Throttle time.Duration
	PerVideo bool
}

type EventsConfig struct {
	AMQPURL       string
	Exchange      string
	RoutingKey    string
	WebhookURL    string
	WebhookSecret string
}

type StorageConfig struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	MaxAvatarBytes int64
}

type GeoIPConfig struct {
	DBPath string
}

type LoggingConfig struct {
	Level string
	File  string
}

var backends = map[string]bool{"memory": true, "file": true, "postgres": true, "redis": true}

// Load reads configuration using a fresh viper instance so tests can call it repeatedly.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvPrefix("MILEARNING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !backends[c.Store.Backend] {
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DatabaseURL == "" {
		return errors.New("store.databaseurl is required for the postgres backend")
	}
	if c.Store.Backend == "redis" && c.Store.RedisURL == "" {
		return errors.New("store.redisurl is required for the redis backend")
	}
	if c.Server.JWTSecret == "" {
		return errors.New("server.jwtsecret is required")
	}
	if c.Events.WebhookURL != "" && c.Events.WebhookSecret == "" {
		return errors.New("events.webhooksecret is required when events.webhookurl is set")
	}
	if c.Progress.Throttle < 0 {
		return errors.New("progress.throttle must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.baseurl", "http://localhost:8080")
	v.SetDefault("server.jwtsecret", "")
	v.SetDefault("server.shutdowntimeout", 10*time.Second)
	v.SetDefault("server.webdir", "")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.filepath", "data/sessions.json")
	v.SetDefault("store.databaseurl", "")
	v.SetDefault("store.redisurl", "")
	v.SetDefault("store.redisprefix", "milearning:")
	v.SetDefault("store.ttl", 0)

	v.SetDefault("auth.delay", 800*time.Millisecond)
	v.SetDefault("auth.sessionkey", "app_user")

	v.SetDefault("progress.throttle", time.Second)
	v.SetDefault("progress.pervideo", false)

	v.SetDefault("events.amqpurl", "")
	v.SetDefault("events.exchange", "milearning.activity")
	v.SetDefault("events.routingkey", "activity.recorded")
	v.SetDefault("events.webhookurl", "")
	v.SetDefault("events.webhooksecret", "")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicendpoint", "")
	v.SetDefault("storage.bucket", "milearning-avatars")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.region", "eu-central-1")
	v.SetDefault("storage.maxavatarbytes", 2*1024*1024)

	v.SetDefault("geoip.dbpath", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}
