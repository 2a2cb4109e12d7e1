package httpserver

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/polariscompute/polaris-gateway/internal/auth"
	"github.com/polariscompute/polaris-gateway/internal/statuschan"
)

func (f *serverFixture) adminDo(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return resp
}

func TestAdminRequiresSession(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, 10)

	for _, token := range []string{"", "garbage"} {
		resp := f.adminDo(t, http.MethodGet, "/admin/keys", token, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d", token, resp.StatusCode)
		}
	}

	// A token signed with another secret must be rejected too.
	forged, err := auth.NewSessionManager("other-secret", 0).Issue("ops@polaris.dev")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	resp := f.adminDo(t, http.MethodGet, "/admin/keys", forged, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token: status = %d", resp.StatusCode)
	}
}

func TestAdminKeyLifecycle(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, 10)
	token, err := f.sessions.Issue("ops@polaris.dev")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Mint.
	resp := f.adminDo(t, http.MethodPost, "/admin/keys", token, `{"principal_id": "p1", "name": "ci key"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Prefix string `json:"prefix"`
	}
	if err := jsonDecode(resp.Body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !auth.ValidShape(created.Key) {
		t.Fatalf("minted key %q has invalid shape", created.Key)
	}
	if !strings.HasPrefix(created.Key, created.Prefix) {
		t.Fatalf("prefix %q does not match key", created.Prefix)
	}

	// List: the raw key and fingerprint must not reappear.
	listResp := f.adminDo(t, http.MethodGet, "/admin/keys?principal_id=p1", token, "")
	raw, _ := io.ReadAll(listResp.Body)
	listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", listResp.StatusCode)
	}
	body := string(raw)
	if !strings.Contains(body, created.ID) {
		t.Fatalf("list missing credential: %s", body)
	}
	if strings.Contains(body, created.Key) || strings.Contains(body, auth.Fingerprint(created.Key)) {
		t.Fatal("list leaks key material")
	}

	// Revoke.
	revokeResp := f.adminDo(t, http.MethodDelete, "/admin/keys/"+created.ID, token, "")
	revokeResp.Body.Close()
	if revokeResp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d", revokeResp.StatusCode)
	}
	if _, err := f.keys.LookupActive(context.Background(), auth.Fingerprint(created.Key)); err == nil {
		t.Fatal("revoked credential still resolves")
	}

	// Revoking an unknown id is a 404.
	missing := f.adminDo(t, http.MethodDelete, "/admin/keys/unknown", token, "")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing revoke status = %d", missing.StatusCode)
	}
}

func TestAdminPublishesDeploymentEvents(t *testing.T) {
	f := newFixture(t, &fakeBackend{}, 10)
	token, err := f.sessions.Issue("ops@polaris.dev")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/deployments/dep-1?key=vf_live_good"
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Subscribers("dep-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	pub := f.adminDo(t, http.MethodPost, "/admin/deployments/dep-1/events", token,
		`{"status": "warming", "message": "loading weights", "progress": 40}`)
	pub.Body.Close()
	if pub.StatusCode != http.StatusAccepted {
		t.Fatalf("publish status = %d", pub.StatusCode)
	}

	var ev statuschan.StatusEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ev.DeploymentID != "dep-1" || ev.Status != "warming" || ev.Progress != 40 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("event timestamp not stamped")
	}

	// Events without a status label are rejected.
	bad := f.adminDo(t, http.MethodPost, "/admin/deployments/dep-1/events", token, `{"message": "x"}`)
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing status: status = %d", bad.StatusCode)
	}

	// The endpoint sits behind the admin session gate.
	noauth := f.adminDo(t, http.MethodPost, "/admin/deployments/dep-1/events", "", `{"status": "warming"}`)
	noauth.Body.Close()
	if noauth.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated publish: status = %d", noauth.StatusCode)
	}
}
