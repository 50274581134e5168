package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Resolver  ResolverConfig
	Session   SessionConfig
	Upload    UploadConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ResolverConfig holds vision resolver service configuration.
type ResolverConfig struct {
	BaseURL string        `envconfig:"RESOLVER_URL" default:"http://localhost:5052"`
	Timeout time.Duration `envconfig:"RESOLVER_TIMEOUT" default:"60s"`
}

// SessionConfig holds dialogue session lifecycle configuration.
type SessionConfig struct {
	TTL            time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	ReapInterval   time.Duration `envconfig:"SESSION_REAP_INTERVAL" default:"1m"`
	HistoryWindow  int           `envconfig:"SESSION_HISTORY_WINDOW" default:"10"`
	TombstoneLimit int           `envconfig:"SESSION_TOMBSTONE_LIMIT" default:"1024"`
}

// UploadConfig holds subject upload configuration.
type UploadConfig struct {
	Dir      string `envconfig:"UPLOAD_DIR" default:"/tmp/vqa-uploads"`
	MaxBytes int64  `envconfig:"UPLOAD_MAX_BYTES" default:"26214400"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Resolver: ResolverConfig{
			BaseURL: "http://localhost:5052",
			Timeout: 60 * time.Second,
		},
		Session: SessionConfig{
			TTL:            30 * time.Minute,
			ReapInterval:   time.Minute,
			HistoryWindow:  10,
			TombstoneLimit: 1024,
		},
		Upload: UploadConfig{
			Dir:      "/tmp/vqa-uploads",
			MaxBytes: 25 * 1024 * 1024,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
