package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/ledger"
)

const usageEndpoint = "/v1/usage"

// handleUsage returns the authenticated principal's usage summary for
// one billing period ("period=YYYY-MM", default current month).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	defer func() { s.collector.RecordRequest(usageEndpoint, time.Since(reqStart)) }()

	principal, err := s.validator.Validate(r.Context(), bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		s.collector.RecordError(usageEndpoint)
		if errors.Is(err, auth.ErrInvalidCredential) {
			s.respondError(w, http.StatusUnauthorized, errors.New("invalid credential"))
			return
		}
		log.Error().Err(err).Msg("credential validation failed")
		s.respondError(w, http.StatusServiceUnavailable, errors.New("credential store unavailable"))
		return
	}

	period := r.URL.Query().Get("period")
	summary, err := s.recorder.Summarize(r.Context(), principal.ID, period)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidPeriod) {
			s.respondError(w, http.StatusBadRequest, errors.New("period must be formatted YYYY-MM"))
			return
		}
		log.Error().Err(err).Str("principal_id", principal.ID).Msg("usage summary failed")
		s.collector.RecordError(usageEndpoint)
		s.respondError(w, http.StatusInternalServerError, errors.New("usage store unavailable"))
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}
