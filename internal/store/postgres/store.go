// Package postgres provides the Postgres-backed entity store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visawatch/visawatch/internal/monitor"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements monitor.EntityStore on Postgres. Expected schema:
//
//	CREATE TABLE entities (
//		id BIGINT PRIMARY KEY,
//		country_code TEXT NOT NULL,
//		query_code TEXT NOT NULL,
//		query_type TEXT NOT NULL,
//		check_interval TEXT NOT NULL,
//		latest_status TEXT,
//		latest_details TEXT,
//		last_checked TIMESTAMPTZ,
//		last_status_change TIMESTAMPTZ,
//		active BOOLEAN NOT NULL DEFAULT TRUE
//	);
//
//	CREATE TABLE query_logs (
//		id UUID PRIMARY KEY,
//		entity_id BIGINT NOT NULL REFERENCES entities(id),
//		kind TEXT NOT NULL,
//		status TEXT,
//		details TEXT,
//		error TEXT,
//		raw_excerpt TEXT,
//		latency_ms BIGINT NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	pool pgxPool
}

// New creates a Store backed by a fresh pgx pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
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
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const entityColumns = `id, country_code, query_code, query_type, check_interval,
	latest_status, latest_details, last_checked, last_status_change, active`

// GetEntity loads one entity by id.
func (s *Store) GetEntity(ctx context.Context, id int64) (*monitor.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, monitor.ErrEntityNotFound
		}
		return nil, fmt.Errorf("select entity %d: %w", id, err)
	}
	return e, nil
}

// ListActiveEntities returns every entity with active = true.
func (s *Store) ListActiveEntities(ctx context.Context) ([]*monitor.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select active entities: %w", err)
	}
	defer rows.Close()

	var out []*monitor.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// RecordPoll appends the query log record and, when update is non-nil, applies
// the entity update in the same transaction.
func (s *Store) RecordPoll(ctx context.Context, rec monitor.QueryLogRecord, update *monitor.EntityUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
INSERT INTO query_logs (
	id, entity_id, kind, status, details, error, raw_excerpt, latency_ms, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`,
		rec.ID,
		rec.EntityID,
		string(rec.Kind),
		nullIfEmpty(string(rec.Status)),
		nullIfEmpty(rec.Details),
		nullIfEmpty(rec.ErrText),
		nullIfEmpty(rec.RawExcerpt),
		rec.LatencyMS,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}

	if update != nil {
		tag, err := tx.Exec(ctx, `
UPDATE entities SET
	latest_status = $2,
	latest_details = $3,
	last_checked = $4,
	last_status_change = COALESCE($5, last_status_change)
WHERE id = $1`,
			update.EntityID,
			string(update.LatestStatus),
			update.LatestDetails,
			update.LastChecked,
			update.LastStatusChange,
		)
		if err != nil {
			return fmt.Errorf("update entity %d: %w", update.EntityID, err)
		}
		if tag.RowsAffected() == 0 {
			return monitor.ErrEntityNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanEntity(row pgx.Row) (*monitor.Entity, error) {
	var (
		e             monitor.Entity
		latestStatus  *string
		latestDetails *string
	)
	err := row.Scan(
		&e.ID,
		&e.CountryCode,
		&e.QueryCode,
		&e.QueryType,
		&e.Interval,
		&latestStatus,
		&latestDetails,
		&e.LastChecked,
		&e.LastStatusChange,
		&e.Active,
	)
	if err != nil {
		return nil, err
	}
	if latestStatus != nil {
		e.LatestStatus = monitor.ApplicationStatus(*latestStatus)
	}
	if latestDetails != nil {
		e.LatestDetails = *latestDetails
	}
	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
