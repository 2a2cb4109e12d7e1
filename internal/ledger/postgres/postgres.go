package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/polariscompute/polaris-gateway/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed usage store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	principal_id TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK(status IN ('ok','error','aborted')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_usage_records_principal_created ON usage_records(principal_id, created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new usage record.
func (s *Store) Record(ctx context.Context, rec ledger.UsageRecord) error {
	if rec.PrincipalID == "" {
		return errors.New("usage record requires principal id")
	}
	if !ledger.ValidStatus(rec.Status) {
		return fmt.Errorf("invalid status %q", rec.Status)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO usage_records(principal_id, model, input_tokens, output_tokens, latency_ms, status, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7)`,
		rec.PrincipalID,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.LatencyMS,
		string(rec.Status),
		created,
	)
	return err
}

// ListRange returns the principal's records in [from, to), oldest first.
func (s *Store) ListRange(ctx context.Context, principalID string, from, to time.Time) ([]ledger.UsageRecord, error) {
	if principalID == "" {
		return nil, errors.New("principal id required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, principal_id, model, input_tokens, output_tokens, latency_ms, status, created_at
FROM usage_records
WHERE principal_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC`, principalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.UsageRecord
	for rows.Next() {
		var rec ledger.UsageRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &rec.Model, &rec.InputTokens, &rec.OutputTokens, &rec.LatencyMS, &status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = ledger.Status(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}
