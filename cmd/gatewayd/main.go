// Command gatewayd runs the Polaris inference gateway: credential
// validation, per-principal rate limiting, streaming relay, usage
// accounting, and the deployment status channel.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/backend"
	"github.com/polariscompute/polaris-gateway/internal/config"
	"github.com/polariscompute/polaris-gateway/internal/health"
	"github.com/polariscompute/polaris-gateway/internal/httpserver"
	"github.com/polariscompute/polaris-gateway/internal/keystore"
	keystorepg "github.com/polariscompute/polaris-gateway/internal/keystore/postgres"
	keystoresqlite "github.com/polariscompute/polaris-gateway/internal/keystore/sqlite"
	"github.com/polariscompute/polaris-gateway/internal/ledger"
	ledgerasync "github.com/polariscompute/polaris-gateway/internal/ledger/async"
	ledgerpg "github.com/polariscompute/polaris-gateway/internal/ledger/postgres"
	ledgersqlite "github.com/polariscompute/polaris-gateway/internal/ledger/sqlite"
	"github.com/polariscompute/polaris-gateway/internal/logging"
	"github.com/polariscompute/polaris-gateway/internal/metrics"
	"github.com/polariscompute/polaris-gateway/internal/ratelimit"
	"github.com/polariscompute/polaris-gateway/internal/statuschan"
	"github.com/polariscompute/polaris-gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to the YAML config file")
	flag.Parse()

	// Local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config failed")
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:        cfg.Logging.Level,
		FilePath:     cfg.Logging.File,
		MaxFileBytes: cfg.Logging.MaxFileBytes,
		Console:      cfg.Logging.Console,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init logging failed")
	}
	defer logCloser.Close()

	log.Info().Str("version", version.Version).Msg("gatewayd starting")

	ctx := context.Background()

	var keys keystore.Store
	var usage ledger.Store
	switch cfg.Store.Driver {
	case "postgres":
		keys, err = keystorepg.New(cfg.Store.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open credential store")
		}
		usage, err = ledgerpg.New(cfg.Store.DSN, 20, 5, 30*time.Minute)
		if err != nil {
			log.Fatal().Err(err).Msg("open usage store")
		}
	default:
		keys, err = keystoresqlite.New(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("open credential store")
		}
		usage, err = ledgersqlite.New(cfg.Store.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("open usage store")
		}
	}
	defer keys.Close()

	asyncUsage := ledgerasync.New(usage, ledgerasync.Config{})
	defer asyncUsage.Close()

	limiterCfg := ratelimit.Config{
		Limit:         cfg.RateLimit.Limit,
		Window:        cfg.RateLimit.Window,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}
	if cfg.RateLimit.RedisURL != "" {
		store, err := ratelimit.NewRedisStore(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect rate limit redis")
		}
		limiterCfg.Store = store
		log.Info().Msg("rate limiting in strict shared-counter mode")
	}
	limiter := ratelimit.NewLimiter(limiterCfg)
	defer limiter.Close()

	checker := health.NewChecker(0)
	checker.Add("credential_store", keys.Ping)
	checker.Add("backend", health.HTTPProbe(cfg.Backend.BaseURL+"/health"))

	server := httpserver.New(httpserver.Options{
		Validator: auth.NewValidator(keys),
		Limiter:   limiter,
		Backend: backend.New(backend.Config{
			BaseURL:          cfg.Backend.BaseURL,
			APIKey:           cfg.Backend.APIKey,
			FirstByteTimeout: cfg.Backend.FirstByteTimeout,
		}),
		Recorder:               ledger.NewRecorder(asyncUsage),
		Keys:                   keys,
		Sessions:               auth.NewSessionManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry),
		Hub:                    statuschan.NewHub(),
		Collector:              metrics.NewCollector(),
		Health:                 checker,
		AdminRequestsPerMinute: cfg.Server.AdminRequestsPerMinute,
	})

	// No WriteTimeout: inference responses and status subscriptions
	// stream for as long as the client stays connected.
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     server.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
