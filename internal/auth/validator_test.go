package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polariscompute/polaris-gateway/internal/keystore"
)

// fakeStore counts lookups so tests can assert the cheap rejection path
// never touches the store.
type fakeStore struct {
	mu      sync.Mutex
	lookups int
	touches int
	byFP    map[string]keystore.Credential
	failTouch bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byFP: make(map[string]keystore.Credential)}
}

func (f *fakeStore) Insert(_ context.Context, cred keystore.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFP[cred.Fingerprint] = cred
	return nil
}

func (f *fakeStore) LookupActive(_ context.Context, fingerprint string) (*keystore.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	cred, ok := f.byFP[fingerprint]
	if !ok || !cred.Active {
		return nil, keystore.ErrNotFound
	}
	c := cred
	return &c, nil
}

func (f *fakeStore) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fp, c := range f.byFP {
		if c.ID == id {
			c.Active = false
			f.byFP[fp] = c
		}
	}
	return nil
}

func (f *fakeStore) List(context.Context) ([]keystore.Credential, error) { return nil, nil }

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) TouchLastUsed(context.Context, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	if f.failTouch {
		return errors.New("store down")
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func TestValidShape(t *testing.T) {
	raw, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !ValidShape(raw) {
		t.Fatalf("generated key %s... should be valid", DisplayPrefix(raw))
	}

	invalid := []string{
		"",
		"vf_live_",
		"vf_live_short",
		"sk_live_" + strings.Repeat("a", 64),          // wrong prefix
		KeyPrefix + strings.Repeat("a", 63),           // too short
		KeyPrefix + strings.Repeat("a", 65),           // too long
		KeyPrefix + strings.Repeat("A", 64),           // uppercase hex
		KeyPrefix + strings.Repeat("z", 64),           // non-hex
		strings.Repeat("a", 64),                       // no prefix
	}
	for _, s := range invalid {
		if ValidShape(s) {
			t.Errorf("ValidShape(%q) = true, want false", s)
		}
	}
}

func TestValidateMalformedSkipsStore(t *testing.T) {
	store := newFakeStore()
	v := NewValidator(store)

	_, err := v.Validate(context.Background(), "not-a-key")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
	if n := store.lookupCount(); n != 0 {
		t.Fatalf("store lookups = %d, want 0 for malformed input", n)
	}
}

func TestValidateKnownAndRevoked(t *testing.T) {
	store := newFakeStore()
	v := NewValidator(store)
	ctx := context.Background()

	raw, _ := GenerateKey()
	cred := keystore.Credential{
		ID:          "cred-1",
		PrincipalID: "prin-1",
		Fingerprint: Fingerprint(raw),
		Prefix:      DisplayPrefix(raw),
		Active:      true,
	}
	if err := store.Insert(ctx, cred); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	p, err := v.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.ID != "prin-1" || p.CredentialID != "cred-1" {
		t.Fatalf("unexpected principal %#v", p)
	}

	// Revoked keys collapse to the same outward error as unknown ones.
	_ = store.Deactivate(ctx, "cred-1")
	if _, err := v.Validate(ctx, raw); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("revoked key: err = %v, want ErrInvalidCredential", err)
	}

	other, _ := GenerateKey()
	if _, err := v.Validate(ctx, other); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("unknown key: err = %v, want ErrInvalidCredential", err)
	}
}

func TestValidateTouchFailureDoesNotFailValidation(t *testing.T) {
	store := newFakeStore()
	store.failTouch = true
	v := NewValidator(store)
	ctx := context.Background()

	raw, _ := GenerateKey()
	_ = store.Insert(ctx, keystore.Credential{
		ID: "cred-2", PrincipalID: "prin-2", Fingerprint: Fingerprint(raw), Active: true,
	})

	if _, err := v.Validate(ctx, raw); err != nil {
		t.Fatalf("Validate should not surface touch failure, got %v", err)
	}
}

func TestFingerprintNeverEqualsRaw(t *testing.T) {
	raw, _ := GenerateKey()
	fp := Fingerprint(raw)
	if fp == raw || strings.Contains(fp, strings.TrimPrefix(raw, KeyPrefix)) {
		t.Fatal("fingerprint must not contain the raw secret")
	}
	if Fingerprint(raw) != fp {
		t.Fatal("fingerprint must be deterministic")
	}
}
