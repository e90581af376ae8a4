// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
)

// ResultStoreConfig controls the Postgres connection pool used for session
// and result rows.
type ResultStoreConfig struct {
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
	Close()
}

// ResultStore writes session and result rows into Postgres. The
// search_results table carries a unique constraint over (session_id,
// keyword, fingerprint) so the dedup invariant holds even under concurrent
// appends.
type ResultStore struct {
	pool pgxPool
}

// NewResultStore creates a Postgres-backed ResultStore using the provided config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
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
	return &ResultStore{pool: pool}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool pgxPool) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateSession inserts a session row.
func (s *ResultStore) CreateSession(ctx context.Context, session crawl.CrawlSession) error {
	keywordsJSON, err := json.Marshal(session.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	query := `
INSERT INTO crawl_sessions (
	id,
	name,
	keywords,
	status,
	error_text,
	total_results,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = s.pool.Exec(ctx, query,
		session.ID,
		session.Name,
		keywordsJSON,
		string(session.Status),
		session.ErrorText,
		session.TotalResults,
		session.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return crawl.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessionStatus transitions a session. started_at is stamped on the
// first move to running and completed_at on a terminal status.
func (s *ResultStore) UpdateSessionStatus(
	ctx context.Context,
	sessionID uuid.UUID,
	status crawl.SessionStatus,
	errText string,
) error {
	query := `
UPDATE crawl_sessions SET
	status = $2,
	error_text = $3,
	started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
	completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN COALESCE(completed_at, NOW()) ELSE completed_at END
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, sessionID, string(status), errText)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawl.ErrNotFound
	}
	return nil
}

// AppendResult inserts a result row. A (session_id, keyword, fingerprint)
// collision is swallowed by the unique constraint and reported as inserted ==
// false; the session total only advances for real inserts. The insert and
// the total bump share one transaction, so a failed bump leaves no orphaned
// row behind.
func (s *ResultStore) AppendResult(ctx context.Context, rec crawl.ResultRecord) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin append result: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insert := `
INSERT INTO search_results (
	session_id,
	keyword,
	url,
	title,
	snippet,
	domain,
	fingerprint,
	rank,
	discovered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (session_id, keyword, fingerprint) DO NOTHING`
	tag, err := tx.Exec(ctx, insert,
		rec.SessionID,
		rec.Keyword,
		rec.URL,
		rec.Title,
		rec.Snippet,
		rec.Domain,
		rec.Fingerprint,
		rec.Rank,
		rec.DiscoveredAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert result: %w", err)
	}
	inserted := tag.RowsAffected() > 0
	if inserted {
		bump := `UPDATE crawl_sessions SET total_results = total_results + 1 WHERE id = $1`
		if _, err := tx.Exec(ctx, bump, rec.SessionID); err != nil {
			return false, fmt.Errorf("bump session total: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit append result: %w", err)
	}
	return inserted, nil
}

// ExistingFingerprints returns the dedup keys already stored for a session.
func (s *ResultStore) ExistingFingerprints(
	ctx context.Context,
	sessionID uuid.UUID,
) (map[crawl.FingerprintKey]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT keyword, fingerprint FROM search_results WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[crawl.FingerprintKey]struct{})
	for rows.Next() {
		var key crawl.FingerprintKey
		if err := rows.Scan(&key.Keyword, &key.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}

// AllFingerprints returns every fingerprint stored across sessions.
func (s *ResultStore) AllFingerprints(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT fingerprint FROM search_results`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}

const sessionColumns = `
	id,
	name,
	keywords,
	status,
	error_text,
	total_results,
	created_at,
	started_at,
	completed_at`

// GetSession loads one session or returns crawl.ErrNotFound.
func (s *ResultStore) GetSession(ctx context.Context, sessionID uuid.UUID) (crawl.CrawlSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+sessionColumns+` FROM crawl_sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.CrawlSession{}, crawl.ErrNotFound
		}
		return crawl.CrawlSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns up to limit sessions, newest first. A non-positive
// limit returns all sessions.
func (s *ResultStore) ListSessions(ctx context.Context, limit int) ([]crawl.CrawlSession, error) {
	query := `SELECT` + sessionColumns + ` FROM crawl_sessions ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []crawl.CrawlSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// ListResults returns a session's result rows in insertion order.
func (s *ResultStore) ListResults(ctx context.Context, sessionID uuid.UUID) ([]crawl.ResultRecord, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT
	session_id,
	keyword,
	url,
	title,
	snippet,
	domain,
	fingerprint,
	rank,
	discovered_at
FROM search_results
WHERE session_id = $1
ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []crawl.ResultRecord
	for rows.Next() {
		var rec crawl.ResultRecord
		if err := rows.Scan(
			&rec.SessionID,
			&rec.Keyword,
			&rec.URL,
			&rec.Title,
			&rec.Snippet,
			&rec.Domain,
			&rec.Fingerprint,
			&rec.Rank,
			&rec.DiscoveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (crawl.CrawlSession, error) {
	var (
		session      crawl.CrawlSession
		keywordsJSON []byte
		status       string
	)
	if err := row.Scan(
		&session.ID,
		&session.Name,
		&keywordsJSON,
		&status,
		&session.ErrorText,
		&session.TotalResults,
		&session.CreatedAt,
		&session.StartedAt,
		&session.CompletedAt,
	); err != nil {
		return crawl.CrawlSession{}, err
	}
	if err := json.Unmarshal(keywordsJSON, &session.Keywords); err != nil {
		return crawl.CrawlSession{}, fmt.Errorf("unmarshal keywords: %w", err)
	}
	session.Status = crawl.SessionStatus(status)
	return session, nil
}
