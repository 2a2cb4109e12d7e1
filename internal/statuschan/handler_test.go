package statuschan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/keystore"
)

type staticValidator struct {
	key string
	// storeErr simulates a credential store outage.
	storeErr error
}

func (v *staticValidator) Validate(_ context.Context, raw string) (keystore.Principal, error) {
	if v.storeErr != nil {
		return keystore.Principal{}, v.storeErr
	}
	if raw != v.key {
		return keystore.Principal{}, auth.ErrInvalidCredential
	}
	return keystore.Principal{ID: "p1", CredentialID: "cred-1", Active: true}, nil
}

func newTestServer(t *testing.T, handler *Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deploymentID := strings.TrimPrefix(r.URL.Path, "/ws/deployments/")
		handler.Serve(w, r, deploymentID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServeRejectsBadCredentialBeforeUpgrade(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, NewHandler(hub, &staticValidator{key: "good"}))

	resp, err := http.Get(srv.URL + "/ws/deployments/dep-1?key=bad")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if hub.Subscribers("dep-1") != 0 {
		t.Fatal("rejected caller must not be subscribed")
	}
}

func TestServeStoreOutageIsNotUnauthorized(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, NewHandler(hub, &staticValidator{storeErr: errors.New("connection refused")}))

	resp, err := http.Get(srv.URL + "/ws/deployments/dep-1?key=good")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestServePushesEvents(t *testing.T) {
	hub := NewHub()
	handler := NewHandler(hub, &staticValidator{key: "good"})
	handler.Heartbeat = time.Minute
	srv := newTestServer(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/deployments/dep-1?key=good"
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Wait for the server to register the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("dep-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A malformed inbound message must be ignored, not fatal.
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	hub.Publish(StatusEvent{DeploymentID: "dep-1", Status: "warming", Message: "loading weights", Progress: 40})
	hub.Publish(StatusEvent{DeploymentID: "dep-1", Status: "ready", Progress: 100})

	var first StatusEvent
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first.Status != "warming" || first.Progress != 40 {
		t.Fatalf("first event = %+v", first)
	}
	var second StatusEvent
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if second.Status != "ready" {
		t.Fatalf("second event = %+v", second)
	}
}

func TestServeReportsClose(t *testing.T) {
	hub := NewHub()
	handler := NewHandler(hub, &staticValidator{key: "good"})
	handler.Heartbeat = time.Minute
	closed := make(chan CloseInfo, 1)
	handler.OnClose = func(info CloseInfo) { closed <- info }
	srv := newTestServer(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/deployments/dep-1?key=good"
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := conn.Close(websocket.StatusGoingAway, "moving on"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case info := <-closed:
		if info.DeploymentID != "dep-1" {
			t.Fatalf("close info = %+v", info)
		}
		if info.Code != websocket.StatusGoingAway || info.Reason != "moving on" {
			t.Fatalf("close info = %+v", info)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("close was never reported")
	}
}
