package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/backend"
	"github.com/polariscompute/polaris-gateway/internal/ledger"
	"github.com/polariscompute/polaris-gateway/internal/relay"
)

const inferenceEndpoint = "/v1/inference"

type inferenceRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	DeploymentID string `json:"deployment_id,omitempty"`
	Stream       bool   `json:"stream"`
}

type tokenFrame struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// handleInference runs the admission pipeline: validate the credential,
// admit against the rate limit, open the backend stream, relay tokens
// to the caller as SSE frames, and record usage once the outcome is
// fully known.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	s.collector.RecordRequestStart(inferenceEndpoint)
	defer func() {
		s.collector.RecordRequestEnd(inferenceEndpoint)
		s.collector.RecordRequest(inferenceEndpoint, time.Since(reqStart))
	}()

	principal, err := s.validator.Validate(r.Context(), bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		s.collector.RecordError(inferenceEndpoint)
		if errors.Is(err, auth.ErrInvalidCredential) {
			// Malformed and unknown collapse to one outward signal.
			s.respondError(w, http.StatusUnauthorized, errors.New("invalid credential"))
			return
		}
		// Store failure, not a verdict on the credential.
		log.Error().Err(err).Msg("credential validation failed")
		s.respondError(w, http.StatusServiceUnavailable, errors.New("credential store unavailable"))
		return
	}

	var req inferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.collector.RecordError(inferenceEndpoint)
		s.respondError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	if req.Model == "" || req.Prompt == "" {
		s.collector.RecordError(inferenceEndpoint)
		s.respondError(w, http.StatusBadRequest, errors.New("model and prompt are required"))
		return
	}

	decision := s.limiter.Admit(r.Context(), principal.ID)
	if !decision.Allowed {
		s.collector.RecordRateLimitHit(principal.ID)
		resetAt := decision.ResetAt.Unix()
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(decision.ResetAt).Seconds())+1))
		s.respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     "rate limited",
			"limit":     decision.Limit,
			"remaining": 0,
			"reset_at":  resetAt,
		})
		return
	}

	stream, err := s.backend.Stream(r.Context(), backend.Request{
		Model:        req.Model,
		Prompt:       req.Prompt,
		DeploymentID: req.DeploymentID,
	})
	if err != nil {
		log.Warn().Err(err).Str("model", req.Model).Msg("backend call failed")
		s.collector.RecordError(inferenceEndpoint)
		s.recordUsage(principal.ID, req, 0, ledger.StatusError, reqStart)
		s.respondError(w, http.StatusBadGateway, errors.New("backend unavailable"))
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	res, relayErr := relay.New().Run(r.Context(), stream, func(tok relay.StreamToken) {
		frame, err := json.Marshal(tokenFrame{Token: tok.Text, Index: tok.Index})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", frame)
		if flusher != nil {
			flusher.Flush()
		}
	})

	status := ledger.StatusOK
	switch {
	case relayErr == nil:
		fmt.Fprint(w, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	case errors.Is(relayErr, context.Canceled) || r.Context().Err() != nil:
		status = ledger.StatusAborted
		s.collector.RecordStreamAborted()
	default:
		// Mid-stream transport failure; the SSE response is already
		// underway, so the stream just ends without a sentinel.
		log.Warn().Err(relayErr).Str("model", req.Model).Msg("stream relay failed")
		status = ledger.StatusError
		s.collector.RecordStreamFailure()
		s.collector.RecordError(inferenceEndpoint)
	}

	s.recordUsage(principal.ID, req, int64(res.Tokens), status, reqStart)
}

// recordUsage writes the outcome off the request context so aborted
// requests still get their record.
func (s *Server) recordUsage(principalID string, req inferenceRequest, outputTokens int64, status ledger.Status, reqStart time.Time) {
	inputTokens := estimateTokens(req.Prompt)
	rec := ledger.UsageRecord{
		PrincipalID:  principalID,
		Model:        req.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMS:    time.Since(reqStart).Milliseconds(),
		Status:       status,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.Record(ctx, rec); err != nil {
		log.Error().Err(err).Str("principal_id", principalID).Msg("usage record failed")
	}
	s.collector.RecordTokenUsage(req.Model, inputTokens, outputTokens)
}

// estimateTokens approximates the prompt's token count. The backend
// does not echo input token usage, so 4 bytes per token stands in.
func estimateTokens(text string) int64 {
	return int64(len(text) / 4)
}
