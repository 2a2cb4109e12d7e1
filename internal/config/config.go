package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration wraps fatal configuration problems detected at startup.
// Stores and backends are never constructed lazily; a missing path or URL
// fails here, before the server accepts traffic.
var ErrConfiguration = errors.New("configuration error")

// Config describes runtime options for gatewayd.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AdminRequestsPerMinute caps the admin surface per client IP.
	AdminRequestsPerMinute int `yaml:"admin_requests_per_minute"`
}

// BackendConfig points at the model-serving backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// FirstByteTimeout bounds the wait for the first streamed byte.
	FirstByteTimeout time.Duration `yaml:"first_byte_timeout"`
}

// StoreConfig selects the credential/usage store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the sqlite database file (driver=sqlite).
	Path string `yaml:"path"`
	// DSN is the postgres connection string (driver=postgres).
	DSN string `yaml:"dsn"`
}

// RateLimitConfig controls per-principal admission.
type RateLimitConfig struct {
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// RedisURL switches the limiter to the strict shared-counter mode.
	RedisURL string `yaml:"redis_url"`
}

// AuthConfig controls console/admin authentication.
type AuthConfig struct {
	// JWTSecret signs admin session tokens (HS256).
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	File         string `yaml:"file"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
	Console      bool   `yaml:"console"`
}

// Default returns the baseline configuration before file/env overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                   ":8090",
			ReadTimeout:            30 * time.Second,
			ShutdownTimeout:        10 * time.Second,
			AdminRequestsPerMinute: 120,
		},
		Backend: BackendConfig{
			FirstByteTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/gateway.db",
		},
		RateLimit: RateLimitConfig{
			Limit:         60,
			Window:        time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Auth: AuthConfig{
			JWTExpiry: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:        "info",
			MaxFileBytes: 300 * 1024 * 1024,
			Console:      true,
		},
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			// Running without a config file is fine; env overrides and
			// defaults still apply.
			data = nil
		} else if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "GATEWAY_ADDR")
	setString(&c.Backend.BaseURL, "GATEWAY_BACKEND_URL")
	setString(&c.Backend.APIKey, "GATEWAY_BACKEND_API_KEY")
	setString(&c.Store.Driver, "GATEWAY_STORE_DRIVER")
	setString(&c.Store.Path, "GATEWAY_STORE_PATH")
	setString(&c.Store.DSN, "GATEWAY_STORE_DSN")
	setString(&c.RateLimit.RedisURL, "GATEWAY_REDIS_URL")
	setString(&c.Auth.JWTSecret, "GATEWAY_JWT_SECRET")
	setString(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setString(&c.Logging.File, "GATEWAY_LOG_FILE")
	setInt(&c.RateLimit.Limit, "GATEWAY_RATE_LIMIT")
}

// Validate reports configuration problems eagerly, at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("%w: backend.base_url is required", ErrConfiguration)
	}
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("%w: store.path is required for sqlite", ErrConfiguration)
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("%w: store.dsn is required for postgres", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrConfiguration, c.Store.Driver)
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("%w: rate_limit.limit must be positive", ErrConfiguration)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: rate_limit.window must be positive", ErrConfiguration)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("%w: auth.jwt_secret is required", ErrConfiguration)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}
