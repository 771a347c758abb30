// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the Tether service.
package server

import (
	"strings"
	"sync"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/pkg/errors"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST,default=20"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
}

// HeartbeatConfig defines the liveness probe cadence: a probe is sent every
// Interval and the connection is considered dead when no acknowledgment
// arrives within Timeout.
type HeartbeatConfig struct {
	Interval time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
	Timeout  time.Duration `env:"HEARTBEAT_TIMEOUT,default=1s"`
}

// Config holds the server configuration settings including security controls
// and the external collaborator endpoints.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:4040"`
	AllowedOrigins []string
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE,default=10485760"`
	RateLimit      RateLimitConfig
	Heartbeat      HeartbeatConfig

	MongoURL      string        `env:"MONGO_URL,default=mongodb://localhost:27017"`
	MongoDatabase string        `env:"MONGO_DATABASE,default=tether"`
	JWTSecret     string        `env:"JWT_SECRET"`
	TokenTTL      time.Duration `env:"TOKEN_TTL,default=720h"`
	UploadDir     string        `env:"UPLOAD_DIR,default=uploads"`
	LogLevel      string        `env:"LOG_LEVEL,default=info"`

	// RawOrigins is the comma-separated form of AllowedOrigins as it appears
	// in the environment.
	RawOrigins string `env:"ALLOWED_ORIGINS"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":4040",
		AllowedOrigins: []string{
			"http://localhost:5173",
		},
		MaxMessageSize: 10 << 20,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 5 * time.Second,
			Timeout:  time.Second,
		},
		MongoURL:      "mongodb://localhost:27017",
		MongoDatabase: "tether",
		TokenTTL:      720 * time.Hour,
		UploadDir:     "uploads",
		LogLevel:      "info",
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":4040"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 10 << 20
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.Heartbeat.Interval <= 0 {
		cfg.Heartbeat.Interval = 5 * time.Second
	}

	if cfg.Heartbeat.Timeout <= 0 {
		cfg.Heartbeat.Timeout = time.Second
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables,
// falling back to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, errors.Wrap(err, "server: reading configuration")
	}
	if cfg.RawOrigins != "" {
		cfg.AllowedOrigins = parseOrigins(cfg.RawOrigins)
	}
	return &cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
