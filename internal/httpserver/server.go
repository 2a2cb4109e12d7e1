// Package httpserver exposes the gateway's REST, SSE, and WebSocket
// surface and composes the admission pipeline per inbound request.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/backend"
	"github.com/polariscompute/polaris-gateway/internal/health"
	"github.com/polariscompute/polaris-gateway/internal/keystore"
	"github.com/polariscompute/polaris-gateway/internal/ledger"
	"github.com/polariscompute/polaris-gateway/internal/metrics"
	"github.com/polariscompute/polaris-gateway/internal/ratelimit"
	"github.com/polariscompute/polaris-gateway/internal/statuschan"
	"github.com/polariscompute/polaris-gateway/internal/version"
)

// Validator authenticates bearer credentials.
type Validator interface {
	Validate(ctx context.Context, raw string) (keystore.Principal, error)
}

// Backend opens streaming inference calls.
type Backend interface {
	Stream(ctx context.Context, req backend.Request) (io.ReadCloser, error)
}

// Options holds the server's collaborators, injected at construction.
type Options struct {
	Validator Validator
	Limiter   *ratelimit.Limiter
	Backend   Backend
	Recorder  *ledger.Recorder
	Keys      keystore.Store
	Sessions  *auth.SessionManager
	Hub       *statuschan.Hub
	Collector *metrics.Collector
	// Health, when set, runs dependency probes behind /health.
	Health *health.Checker
	// AdminRequestsPerMinute caps per-IP traffic on the admin surface.
	// Zero uses 60.
	AdminRequestsPerMinute int
}

// Server is the gateway's HTTP layer.
type Server struct {
	validator Validator
	limiter   *ratelimit.Limiter
	backend   Backend
	recorder  *ledger.Recorder
	keys      keystore.Store
	sessions  *auth.SessionManager
	hub       *statuschan.Hub
	status    *statuschan.Handler
	collector *metrics.Collector
	health    *health.Checker
	adminRPM  int
}

// New builds a server from its collaborators.
func New(opts Options) *Server {
	adminRPM := opts.AdminRequestsPerMinute
	if adminRPM <= 0 {
		adminRPM = 60
	}
	s := &Server{
		validator: opts.Validator,
		limiter:   opts.Limiter,
		backend:   opts.Backend,
		recorder:  opts.Recorder,
		keys:      opts.Keys,
		sessions:  opts.Sessions,
		collector: opts.Collector,
		health:    opts.Health,
		adminRPM:  adminRPM,
	}
	if opts.Hub != nil {
		s.hub = opts.Hub
		s.status = statuschan.NewHandler(opts.Hub, opts.Validator)
	}
	if s.collector == nil {
		s.collector = metrics.NewCollector()
	}
	return s
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/v1/inference", s.handleInference)
	r.Get("/v1/usage", s.handleUsage)

	r.Get("/ws/deployments/{deploymentID}", s.handleDeploymentStatus)

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httprate.LimitByIP(s.adminRPM, time.Minute))
		admin.Use(s.sessionMiddleware)
		admin.Post("/keys", s.handleCreateKey)
		admin.Get("/keys", s.handleListKeys)
		admin.Delete("/keys/{id}", s.handleRevokeKey)
		admin.Post("/deployments/{id}/events", s.handlePublishDeploymentEvent)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": version.Version,
	}
	status := http.StatusOK
	if s.health != nil {
		aggregate, components := s.health.Run(r.Context())
		payload["components"] = components
		if aggregate != health.StatusHealthy {
			payload["status"] = string(aggregate)
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = io.WriteString(w, metrics.FormatPrometheus(s.collector.Snapshot()))
}

func (s *Server) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.respondError(w, http.StatusNotFound, errors.New("status channel disabled"))
		return
	}
	s.status.Serve(w, r, chi.URLParam(r, "deploymentID"))
}

// requestLogger is a chi middleware emitting one structured line per
// request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
