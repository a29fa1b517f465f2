// Package postgres implements the durable answer store on PostgreSQL.
//
// The schema is managed by goose migrations embedded in the binary and
// applied on New. Expiry is always judged against the server's NOW().
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/pario-ai/querygate/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds connection settings.
type Config struct {
	DSN      string
	MaxConns int
}

// Store is a durable.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// New connects, applies pending migrations and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate cache db: %w", err)
	}
	return nil
}

// Get returns the live entry for key, incrementing its access count.
func (s *Store) Get(ctx context.Context, key string) (models.Response, bool, error) {
	query := `
		UPDATE cache_entries SET access_count = access_count + 1
		WHERE query_hash = $1 AND expires_at > NOW()
		RETURNING response::text
	`
	var raw string
	err := s.db.GetContext(ctx, &raw, query, key)
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

// Set upserts the response for key.
func (s *Store) Set(ctx context.Context, key, queryText string, resp models.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	query := `
		INSERT INTO cache_entries (query_hash, query_text, response, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3::jsonb, NOW(), NOW(), NOW() + $4::bigint * INTERVAL '1 millisecond')
		ON CONFLICT (query_hash) DO UPDATE SET
			response = EXCLUDED.response,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, queryText, string(data), ttl.Milliseconds()); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// SweepExpired deletes rows whose expiry has passed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= NOW()`)
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
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE expires_at > NOW()) AS active,
			COUNT(*) FILTER (WHERE expires_at <= NOW()) AS expired
		FROM cache_entries
	`
	var st models.DurableStats
	if err := s.db.GetContext(ctx, &st, query); err != nil {
		return models.DurableStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}

// Ping checks the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
