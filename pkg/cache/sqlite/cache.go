// Package sqlite implements the durable answer store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/querygate/pkg/models"
)

// Store is a durable.Store backed by SQLite. Times are unix milliseconds
// taken from SQLite's own clock.
type Store struct {
	db *sql.DB
}

// nowMs is the database clock in unix milliseconds.
const nowMs = `CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)`

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	query_hash TEXT PRIMARY KEY,
	query_text TEXT NOT NULL,
	response TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// New opens (creating if needed) the cache database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Get returns the live entry for key and bumps its access count in the same
// statement. Expired rows are left for SweepExpired.
func (s *Store) Get(ctx context.Context, key string) (models.Response, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`UPDATE cache_entries SET access_count = access_count + 1
		 WHERE query_hash = ? AND expires_at > `+nowMs+`
		 RETURNING response`,
		key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Response{}, false, nil
	}
	if err != nil {
		return models.Response{}, false, fmt.Errorf("cache get: %w", err)
	}

	var resp models.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return models.Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

// Set upserts the response for key with a fresh expiry.
func (s *Store) Set(ctx context.Context, key, queryText string, resp models.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (query_hash, query_text, response, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, `+nowMs+`, `+nowMs+`, `+nowMs+` + ?)
		 ON CONFLICT(query_hash) DO UPDATE SET
			response = excluded.response,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		key, queryText, string(data), ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// SweepExpired deletes rows whose expiry has passed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= `+nowMs)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every row.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts rows by liveness.
func (s *Store) Stats(ctx context.Context) (models.DurableStats, error) {
	var st models.DurableStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at > `+nowMs+` THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at <= `+nowMs+` THEN 1 ELSE 0 END), 0)
		 FROM cache_entries`,
	).Scan(&st.Total, &st.Active, &st.Expired)
	if err != nil {
		return models.DurableStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
