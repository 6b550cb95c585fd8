// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the RoomChat service.
package server

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// ErrMissingSecret is returned when no token signing secret is configured
// outside development mode.
var ErrMissingSecret = errors.New("JWT_SECRET must be set outside development mode")

const developmentSecret = "roomchat-development-secret"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst int `env:"RATE_LIMIT_BURST" envDefault:"5"`
	// RefillSeconds is the time, in seconds, for an empty bucket to refill.
	RefillSeconds  int           `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1"`
	RefillInterval time.Duration `env:"-"`
}

// Config holds the server configuration settings including security controls
// and the addresses of the backing stores.
type Config struct {
	Port           string   `env:"SERVER_PORT"      envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"  envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	SendBufferSize int      `env:"SEND_BUFFER_SIZE" envDefault:"256"`
	RateLimit      RateLimitConfig

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"720h"`

	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"roomchat"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	Development     bool          `env:"DEVELOPMENT"      envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// NewConfig creates a Config instance populated with default values for all
// settings, ignoring the process environment.
func NewConfig() *Config {
	var cfg Config
	// Parsing against an empty environment only applies envDefault tags and
	// cannot fail.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	cfg.sanitize()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables take their defaults; values that do not parse are an error.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	cfg.sanitize()

	if cfg.JWTSecret == "" {
		if !cfg.Development {
			return nil, ErrMissingSecret
		}
		cfg.JWTSecret = developmentSecret
	}
	return &cfg, nil
}

// sanitize replaces non-positive values with defaults and normalizes lists.
func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
	if c.RateLimit.RefillSeconds <= 0 {
		c.RateLimit.RefillSeconds = 1
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Duration(c.RateLimit.RefillSeconds) * time.Second
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 720 * time.Hour
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	origins := c.AllowedOrigins[:0]
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins
}
