package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/keystore"
	"github.com/polariscompute/polaris-gateway/internal/statuschan"
)

type contextKey string

const sessionEmailKey contextKey = "session_email"

// sessionMiddleware gates the admin surface behind a JWT bearer token.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			s.respondError(w, http.StatusUnauthorized, errors.New("admin access disabled"))
			return
		}
		email, err := s.sessions.Verify(bearerToken(r.Header.Get("Authorization")))
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, errors.New("invalid session"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionEmailKey, email)))
	})
}

type createKeyRequest struct {
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name"`
}

type createKeyResponse struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Prefix      string    `json:"prefix"`
	CreatedAt   time.Time `json:"created_at"`
}

// handleCreateKey mints a credential. The raw key appears in this
// response and nowhere else; only its fingerprint is stored.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	if req.PrincipalID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("principal_id is required"))
		return
	}

	rawKey, err := auth.GenerateKey()
	if err != nil {
		log.Error().Err(err).Msg("key generation failed")
		s.respondError(w, http.StatusInternalServerError, errors.New("key generation failed"))
		return
	}

	cred := keystore.Credential{
		ID:          uuid.NewString(),
		PrincipalID: req.PrincipalID,
		Name:        req.Name,
		Fingerprint: auth.Fingerprint(rawKey),
		Prefix:      auth.DisplayPrefix(rawKey),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.keys.Insert(r.Context(), cred); err != nil {
		log.Error().Err(err).Str("principal_id", req.PrincipalID).Msg("credential insert failed")
		s.respondError(w, http.StatusInternalServerError, errors.New("credential store unavailable"))
		return
	}

	log.Info().
		Str("credential_id", cred.ID).
		Str("principal_id", cred.PrincipalID).
		Str("admin", sessionEmail(r)).
		Msg("credential issued")
	s.respondJSON(w, http.StatusCreated, createKeyResponse{
		ID:          cred.ID,
		PrincipalID: cred.PrincipalID,
		Name:        cred.Name,
		Key:         rawKey,
		Prefix:      cred.Prefix,
		CreatedAt:   cred.CreatedAt,
	})
}

// handleListKeys lists credentials. Fingerprints never leave the store
// layer; Credential marshals them away.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := s.keys.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("credential list failed")
		s.respondError(w, http.StatusInternalServerError, errors.New("credential store unavailable"))
		return
	}
	if principalID := r.URL.Query().Get("principal_id"); principalID != "" {
		filtered := creds[:0]
		for _, c := range creds {
			if c.PrincipalID == principalID {
				filtered = append(filtered, c)
			}
		}
		creds = filtered
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"keys": creds})
}

// handleRevokeKey deactivates a credential. The row is retained for
// audit; subsequent validations see it as unknown.
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.keys.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, errors.New("credential not found"))
			return
		}
		log.Error().Err(err).Str("credential_id", id).Msg("credential revoke failed")
		s.respondError(w, http.StatusInternalServerError, errors.New("credential store unavailable"))
		return
	}
	log.Info().Str("credential_id", id).Str("admin", sessionEmail(r)).Msg("credential revoked")
	w.WriteHeader(http.StatusNoContent)
}

func sessionEmail(r *http.Request) string {
	email, _ := r.Context().Value(sessionEmailKey).(string)
	return email
}

type deploymentEventRequest struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// handlePublishDeploymentEvent feeds the status hub. The control plane
// reports deployment progress here; subscribers on the WebSocket
// endpoint receive it in publish order.
func (s *Server) handlePublishDeploymentEvent(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.respondError(w, http.StatusNotFound, errors.New("status channel disabled"))
		return
	}
	id := chi.URLParam(r, "id")
	var req deploymentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	if req.Status == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("status is required"))
		return
	}
	s.hub.Publish(statuschan.StatusEvent{
		DeploymentID: id,
		Status:       req.Status,
		Message:      req.Message,
		Progress:     req.Progress,
		Error:        req.Error,
	})
	log.Debug().
		Str("deployment_id", id).
		Str("status", req.Status).
		Str("admin", sessionEmail(r)).
		Msg("deployment event published")
	s.respondJSON(w, http.StatusAccepted, map[string]any{"subscribers": s.hub.Subscribers(id)})
}
