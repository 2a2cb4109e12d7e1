package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSessionIssueAndVerify(t *testing.T) {
	m := NewSessionManager("secret", time.Minute)

	token, err := m.Issue("ops@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	email, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if email != "ops@example.com" {
		t.Fatalf("email = %q", email)
	}
}

func TestSessionRejectsForgedAndExpired(t *testing.T) {
	m := NewSessionManager("secret", time.Minute)
	other := NewSessionManager("different", time.Minute)

	token, _ := other.Issue("ops@example.com")
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("wrong secret: err = %v, want ErrInvalidSession", err)
	}

	expired := NewSessionManager("secret", -time.Minute)
	token, _ = expired.Issue("ops@example.com")
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expired token: err = %v, want ErrInvalidSession", err)
	}

	if _, err := m.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("garbage token: err = %v, want ErrInvalidSession", err)
	}
}
