// Package audit keeps a queryable history of gateway calls in SQLite.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/querygate/pkg/models"
)

// Logger writes and queries history entries in a dedicated SQLite database.
type Logger struct {
	db        *sql.DB
	cfg       models.HistoryConfig
	log       *slog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New opens the history database, creates the schema and starts the
// retention goroutine.
func New(cfg models.HistoryConfig, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		log:  logger.With("component", "history"),
		done: make(chan struct{}),
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS query_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id    TEXT NOT NULL,
		question_hash TEXT NOT NULL,
		question      TEXT,
		outcome       TEXT NOT NULL,
		error_kind    TEXT,
		recovered     INTEGER NOT NULL DEFAULT 0,
		latency_ms    INTEGER,
		created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_query_log_outcome ON query_log(outcome)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_query_log_created ON query_log(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_query_log_request ON query_log(request_id)`)
	return err
}

// Log inserts a history entry. A nil Logger discards entries.
func (l *Logger) Log(ctx context.Context, entry models.QueryLogEntry) error {
	if l == nil || l.db == nil {
		return nil
	}

	question := entry.Question
	if !l.cfg.StoreQuestions {
		question = ""
	}
	if l.cfg.MaxQuestionSize > 0 {
		question = models.TruncateUTF8(question, l.cfg.MaxQuestionSize)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO query_log
		(request_id, question_hash, question, outcome, error_kind, recovered, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.QuestionHash, question, string(entry.Outcome),
		entry.ErrorKind, entry.Recovered, entry.LatencyMs, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log query: %w", err)
	}
	return nil
}

// Query returns history entries matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.QueryLogOpts) ([]models.QueryLogEntry, error) {
	q := `SELECT request_id, question_hash, question, outcome, error_kind, recovered, latency_ms, created_at
		FROM query_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if opts.ErrorKind != "" {
		q += " AND error_kind = ?"
		args = append(args, opts.ErrorKind)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.QueryLogEntry
	for rows.Next() {
		var e models.QueryLogEntry
		var question, errorKind sql.NullString
		var outcome string
		if err := rows.Scan(
			&e.RequestID, &e.QuestionHash, &question, &outcome,
			&errorKind, &e.Recovered, &e.LatencyMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Question = question.String
		e.ErrorKind = errorKind.String
		e.Outcome = models.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns counts grouped by outcome and day.
func (l *Logger) Stats(ctx context.Context) ([]models.QueryLogStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT outcome, date(created_at) as day, count(*) as cnt
		 FROM query_log GROUP BY outcome, day ORDER BY day DESC, outcome`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	var stats []models.QueryLogStat
	for rows.Next() {
		var s models.QueryLogStat
		var outcome string
		var day sql.NullString
		if err := rows.Scan(&outcome, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan history stat: %w", err)
		}
		s.Outcome = models.Outcome(outcome)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays).UTC()
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM query_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			n, err := l.Cleanup(context.Background())
			if err != nil {
				l.log.Warn("history cleanup failed", "error", err)
			} else if n > 0 {
				l.log.Info("history cleanup", "deleted", n)
			}
		}
	}
}
