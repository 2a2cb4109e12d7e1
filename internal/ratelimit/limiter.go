package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store defines the interface for rate limit storage backends.
// WindowStore keeps per-process sliding-window logs; RedisStore provides the
// strict shared-counter mode for multi-instance deployments.
type Store interface {
	// Admit decides whether one more request for key fits inside the
	// trailing window.
	Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)

	// Close releases resources.
	Close() error
}

// Limiter enforces a per-principal request rate using a pluggable backend.
//
// With the default WindowStore the limit is per gateway instance: N
// concurrently running instances admit up to N*limit requests per window.
// That approximation is the accepted trade-off for zero-latency admission;
// configure a RedisStore when strict cross-instance limits are required.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Store defaults to an in-process WindowStore.
	Store Store
	// Limit is the maximum admissions per window per principal.
	Limit int
	// Window is the trailing interval length.
	Window time.Duration
	// SweepInterval controls how often idle windows are reclaimed
	// (WindowStore only).
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults: 60 requests per 60 seconds,
// idle windows swept every 5 minutes.
func DefaultConfig() Config {
	return Config{
		Limit:         60,
		Window:        time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// NewLimiter creates a rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	store := cfg.Store
	if store == nil {
		store = NewWindowStore(cfg.SweepInterval)
	}
	return &Limiter{store: store, limit: cfg.Limit, window: cfg.Window}
}

// Admit checks whether a request from the given principal should be allowed.
// Backend errors fail open with a warning rather than rejecting traffic.
func (l *Limiter) Admit(ctx context.Context, principalID string) Decision {
	if principalID == "" {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}
	d, err := l.store.Admit(ctx, principalID, l.limit, l.window)
	if err != nil {
		log.Warn().Err(err).Str("principal_id", principalID).Msg("rate limit store unavailable, failing open")
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}
	return d
}

// Close stops the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
