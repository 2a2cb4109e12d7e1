package statuschan

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/keystore"
)

const (
	// DefaultHeartbeat is the idle interval between keepalive frames.
	DefaultHeartbeat = 30 * time.Second

	writeTimeout = 5 * time.Second
)

// CredentialValidator authenticates the access credential presented at
// connection establishment.
type CredentialValidator interface {
	Validate(ctx context.Context, raw string) (keystore.Principal, error)
}

// CloseInfo reports how a subscriber connection ended. Code is -1 when
// the peer vanished without a close frame.
type CloseInfo struct {
	DeploymentID string
	Code         websocket.StatusCode
	Reason       string
}

// Handler serves the per-deployment WebSocket subscription endpoint.
// The credential travels as a query parameter since the protocol
// carries no per-message headers.
type Handler struct {
	hub       *Hub
	validator CredentialValidator

	// Heartbeat overrides DefaultHeartbeat when positive.
	Heartbeat time.Duration
	// OnClose, when set, receives the close code and reason for every
	// ended connection. Reconnection is the caller's policy.
	OnClose func(CloseInfo)
}

// NewHandler builds a handler pushing events from hub to subscribers
// authenticated by validator.
func NewHandler(hub *Hub, validator CredentialValidator) *Handler {
	return &Handler{hub: hub, validator: validator}
}

// Serve authenticates the request, upgrades it, and pushes status
// events for the given deployment until either side closes.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, deploymentID string) {
	if _, err := h.validator.Validate(r.Context(), r.URL.Query().Get("key")); err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			http.Error(w, "invalid credential", http.StatusUnauthorized)
			return
		}
		log.Error().Err(err).Str("deployment_id", deploymentID).Msg("credential validation failed")
		http.Error(w, "credential store unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("deployment_id", deploymentID).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.hub.Subscribe(deploymentID, DefaultSubscriberBuffer)
	defer sub.Close()

	// Inbound frames are discarded: the channel is push-only, and a
	// malformed client message must not end the connection. The read
	// loop exists to notice the peer going away.
	readDone := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readDone <- err
				return
			}
		}
	}()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	var closeErr error
loop:
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				break loop
			}
			if err := h.write(ctx, conn, ev); err != nil {
				closeErr = err
				break loop
			}
		case <-ticker.C:
			if err := h.write(ctx, conn, heartbeatFrame{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				closeErr = err
				break loop
			}
		case err := <-readDone:
			closeErr = err
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	h.report(deploymentID, closeErr)
}

type heartbeatFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}

// report surfaces the numeric close code and reason to the owner.
func (h *Handler) report(deploymentID string, closeErr error) {
	info := CloseInfo{DeploymentID: deploymentID, Code: -1}
	var ce websocket.CloseError
	if errors.As(closeErr, &ce) {
		info.Code = ce.Code
		info.Reason = ce.Reason
	}
	log.Debug().
		Str("deployment_id", deploymentID).
		Int("code", int(info.Code)).
		Str("reason", info.Reason).
		Msg("status subscriber disconnected")
	if h.OnClose != nil {
		h.OnClose(info)
	}
}
