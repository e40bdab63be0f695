// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

const defaultTable = "case_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// OutcomeStoreConfig controls the Postgres connection pool used for outcome rows.
type OutcomeStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// OutcomeStore mirrors terminal case outcomes into Postgres, one row per case.
type OutcomeStore struct {
	pool  execCloser
	table string
}

// NewOutcomeStore creates a Postgres-backed OutcomeStore using the provided config.
func NewOutcomeStore(ctx context.Context, cfg OutcomeStoreConfig) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &OutcomeStore{pool: pool, table: table}, nil
}

// NewOutcomeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOutcomeStoreWithPool(pool execCloser, table string) (*OutcomeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the outcome table when it does not exist.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	country TEXT NOT NULL,
	state TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	govid TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT '',
	raw_digest TEXT NOT NULL DEFAULT '',
	processed_key TEXT NOT NULL DEFAULT '',
	attachments_succeeded INTEGER NOT NULL DEFAULT 0,
	attachments_deduplicated INTEGER NOT NULL DEFAULT 0,
	attachments_failed INTEGER NOT NULL DEFAULT 0,
	failed_attachments JSONB NOT NULL DEFAULT '[]',
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	PRIMARY KEY (country, state, jurisdiction, govid)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreOutcome upserts the latest outcome for the case.
func (s *OutcomeStore) StoreOutcome(ctx context.Context, outcome docket.Outcome) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	if outcome.Case.GovID == "" {
		return fmt.Errorf("case govid is required")
	}
	failed := outcome.FailedAttachments()
	if failed == nil {
		failed = []docket.AttachmentOutcome{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed attachments: %w", err)
	}
	counts := outcome.Counts()

	query := fmt.Sprintf(`
INSERT INTO %s (
	country,
	state,
	jurisdiction,
	govid,
	status,
	reason,
	error_text,
	raw_digest,
	processed_key,
	attachments_succeeded,
	attachments_deduplicated,
	attachments_failed,
	failed_attachments,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (country, state, jurisdiction, govid) DO UPDATE SET
	status = EXCLUDED.status,
	reason = EXCLUDED.reason,
	error_text = EXCLUDED.error_text,
	raw_digest = EXCLUDED.raw_digest,
	processed_key = EXCLUDED.processed_key,
	attachments_succeeded = EXCLUDED.attachments_succeeded,
	attachments_deduplicated = EXCLUDED.attachments_deduplicated,
	attachments_failed = EXCLUDED.attachments_failed,
	failed_attachments = EXCLUDED.failed_attachments,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at`, s.table)

	args := []any{
		outcome.Case.Key.Country,
		outcome.Case.Key.State,
		outcome.Case.Key.Jurisdiction,
		outcome.Case.GovID,
		string(outcome.Status),
		outcome.Reason,
		outcome.Error,
		outcome.RawDigest,
		outcome.ProcessedKey,
		counts[docket.AttachmentSucceeded],
		counts[docket.AttachmentDeduplicated],
		counts[docket.AttachmentFailed],
		failedJSON,
		outcome.StartedAt,
		outcome.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert outcome: %w", err)
	}
	return nil
}
