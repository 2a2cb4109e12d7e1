package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/polariscompute/polaris-gateway/internal/keystore"
)

// Store implements keystore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create keystore directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an existing database handle (shared with other stores).
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL UNIQUE,
	prefix TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_used_at TIMESTAMP,
	request_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_credentials_fingerprint_active ON credentials(fingerprint, active);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a newly issued credential.
func (s *Store) Insert(ctx context.Context, cred keystore.Credential) error {
	if cred.ID == "" || cred.PrincipalID == "" || cred.Fingerprint == "" {
		return errors.New("credential requires id, principal id and fingerprint")
	}
	created := cred.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials(id, principal_id, name, fingerprint, prefix, active, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.PrincipalID, cred.Name, cred.Fingerprint, cred.Prefix, boolToInt(cred.Active), created)
	return err
}

// LookupActive returns the active credential matching the fingerprint.
func (s *Store) LookupActive(ctx context.Context, fingerprint string) (*keystore.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, principal_id, name, fingerprint, prefix, active, created_at, last_used_at, request_count
FROM credentials
WHERE fingerprint = ? AND active = 1`, fingerprint)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, keystore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Deactivate revokes a credential; the row stays for audit.
func (s *Store) Deactivate(ctx context.Context, credentialID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE credentials SET active = 0 WHERE id = ?`, credentialID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return keystore.ErrNotFound
	}
	return nil
}

// List returns all credentials, newest first.
func (s *Store) List(ctx context.Context) ([]keystore.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, principal_id, name, fingerprint, prefix, active, created_at, last_used_at, request_count
FROM credentials
ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []keystore.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}

// TouchLastUsed updates last-used metadata for a credential.
func (s *Store) TouchLastUsed(ctx context.Context, credentialID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE credentials SET last_used_at = ?, request_count = request_count + 1 WHERE id = ?`,
		at.UTC(), credentialID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*keystore.Credential, error) {
	var cred keystore.Credential
	var active int
	var lastUsed sql.NullTime
	if err := row.Scan(&cred.ID, &cred.PrincipalID, &cred.Name, &cred.Fingerprint, &cred.Prefix,
		&active, &cred.CreatedAt, &lastUsed, &cred.RequestCount); err != nil {
		return nil, err
	}
	cred.Active = active != 0
	if lastUsed.Valid {
		t := lastUsed.Time
		cred.LastUsedAt = &t
	}
	return &cred, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
