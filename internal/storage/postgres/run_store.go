// Package postgres provides Postgres-backed persistence for the dataset run ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

const defaultTable = "dataset_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore writes and reads dataset run rows.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Migrate creates the run table when it does not exist.
func (s *RunStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             TEXT PRIMARY KEY,
	publisher_ref  TEXT NOT NULL,
	status         TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	pages          INTEGER NOT NULL DEFAULT 0,
	fetched        INTEGER NOT NULL DEFAULT 0,
	unique_rows    INTEGER NOT NULL DEFAULT 0,
	balanced_rows  INTEGER NOT NULL DEFAULT 0,
	related_rows   INTEGER NOT NULL DEFAULT 0,
	unrelated_rows INTEGER NOT NULL DEFAULT 0,
	blob_uri       TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	error_text     TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// RecordRun upserts a run row keyed by run ID.
func (s *RunStore) RecordRun(ctx context.Context, run pipeline.Run) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, publisher_ref, status, started_at, finished_at,
	pages, fetched, unique_rows, balanced_rows, related_rows, unrelated_rows,
	blob_uri, content_hash, error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	pages = EXCLUDED.pages,
	fetched = EXCLUDED.fetched,
	unique_rows = EXCLUDED.unique_rows,
	balanced_rows = EXCLUDED.balanced_rows,
	related_rows = EXCLUDED.related_rows,
	unrelated_rows = EXCLUDED.unrelated_rows,
	blob_uri = EXCLUDED.blob_uri,
	content_hash = EXCLUDED.content_hash,
	error_text = EXCLUDED.error_text`, s.table)

	args := []any{
		run.ID,
		run.PublisherRef,
		string(run.Status),
		run.Started,
		nullableTime(run.Finished),
		run.Pages,
		run.Fetched,
		run.Unique,
		run.Balanced,
		run.Counts.Related,
		run.Counts.Unrelated,
		run.BlobURI,
		run.ContentHash,
		run.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

const selectColumns = `id, publisher_ref, status, started_at, finished_at,
	pages, fetched, unique_rows, balanced_rows, related_rows, unrelated_rows,
	blob_uri, content_hash, error_text`

// GetRun loads a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (pipeline.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Run{}, fmt.Errorf("%s: %w", runID, pipeline.ErrRunNotFound)
	}
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching filter, newest first.
func (s *RunStore) ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]pipeline.Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.PublisherRef != "" {
		args = append(args, filter.PublisherRef)
		where = append(where, fmt.Sprintf("publisher_ref = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, selectColumns, s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]pipeline.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (pipeline.Run, error) {
	var (
		run      pipeline.Run
		status   string
		finished *time.Time
	)
	if err := row.Scan(
		&run.ID,
		&run.PublisherRef,
		&status,
		&run.Started,
		&finished,
		&run.Pages,
		&run.Fetched,
		&run.Unique,
		&run.Balanced,
		&run.Counts.Related,
		&run.Counts.Unrelated,
		&run.BlobURI,
		&run.ContentHash,
		&run.ErrorText,
	); err != nil {
		return pipeline.Run{}, err
	}
	run.Status = pipeline.RunStatus(status)
	if finished != nil {
		run.Finished = *finished
	}
	return run, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
