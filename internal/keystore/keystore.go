package keystore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no active credential matches a lookup.
var ErrNotFound = errors.New("keystore: credential not found")

// Principal identifies an authenticated caller. Principals are invalidated
// (Active=false) when their credential is revoked, never deleted.
type Principal struct {
	ID           string `json:"id"`
	CredentialID string `json:"credential_id"`
	Active       bool   `json:"active"`
}

// Credential is the stored shape of an issued API key. Only the SHA-256
// fingerprint of the secret is kept; the raw key exists client-side only.
type Credential struct {
	ID           string     `json:"id"`
	PrincipalID  string     `json:"principal_id"`
	Name         string     `json:"name"`
	Fingerprint  string     `json:"-"`
	Prefix       string     `json:"prefix"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used,omitempty"`
	RequestCount int64      `json:"request_count"`
}

// Store persists credentials. Implementations live in the sqlite and
// postgres subpackages.
type Store interface {
	// Insert stores a newly issued credential.
	Insert(ctx context.Context, cred Credential) error

	// LookupActive returns the credential whose fingerprint matches, filtered
	// on the active flag. Inactive fingerprints return ErrNotFound.
	LookupActive(ctx context.Context, fingerprint string) (*Credential, error)

	// Deactivate revokes a credential by id. The row is retained.
	Deactivate(ctx context.Context, credentialID string) error

	// List returns all credentials, newest first, fingerprints included.
	List(ctx context.Context) ([]Credential, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// TouchLastUsed updates last-used metadata and bumps the request count.
	// Callers treat failures as best-effort.
	TouchLastUsed(ctx context.Context, credentialID string, at time.Time) error

	// Close releases resources.
	Close() error
}

// Principal derives the caller identity carried by a credential.
func (c *Credential) Principal() Principal {
	return Principal{ID: c.PrincipalID, CredentialID: c.ID, Active: c.Active}
}
