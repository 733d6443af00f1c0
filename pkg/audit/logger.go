// Package audit keeps a journal of individual provider attempts, including
// failed ones, for diagnosing retries and fallback activations.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/augur/pkg/models"
)

// Logger writes and queries attempt entries in a dedicated SQLite database.
type Logger struct {
	db      *sqlx.DB
	cfg     models.AuditConfig
	log     *zap.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	include map[string]bool
	exclude map[string]bool
}

// New opens the audit SQLite database and creates the schema. A nil logger
// disables logging of retention errors.
func New(cfg models.AuditConfig, logger *zap.Logger) (*Logger, error) {
	db, err := sqlx.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	inc := make(map[string]bool)
	for _, v := range cfg.Include {
		inc[v] = true
	}
	exc := make(map[string]bool)
	for _, v := range cfg.ExcludeCalls {
		exc[v] = true
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Logger{
		db:      db,
		cfg:     cfg,
		log:     logger.Named("audit"),
		done:    make(chan struct{}),
		include: inc,
		exclude: exc,
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sqlx.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS attempt_log (
		request_id  TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		call_type   TEXT NOT NULL,
		tier        TEXT NOT NULL,
		provider    TEXT NOT NULL,
		success     INTEGER NOT NULL,
		error_kind  TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		prompt      TEXT NOT NULL DEFAULT '',
		response    TEXT NOT NULL DEFAULT '',
		tokens_in   INTEGER NOT NULL,
		tokens_out  INTEGER NOT NULL,
		latency_ms  INTEGER NOT NULL,
		created_at  DATETIME NOT NULL,
		PRIMARY KEY (request_id, attempt)
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempt_provider ON attempt_log(provider)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempt_created ON attempt_log(created_at)`)
	return err
}

// Log inserts an attempt entry, respecting include/exclude configuration.
func (l *Logger) Log(ctx context.Context, entry models.AttemptEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if l.exclude[string(entry.CallType)] {
		return nil
	}

	if !l.include["prompts"] {
		entry.Prompt = ""
	}
	if !l.include["responses"] {
		entry.Response = ""
	}
	if l.cfg.MaxBodySize > 0 {
		if len(entry.Prompt) > l.cfg.MaxBodySize {
			entry.Prompt = entry.Prompt[:l.cfg.MaxBodySize]
		}
		if len(entry.Response) > l.cfg.MaxBodySize {
			entry.Response = entry.Response[:l.cfg.MaxBodySize]
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	_, err := l.db.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO attempt_log
		(request_id, attempt, call_type, tier, provider, success, error_kind, error,
		 prompt, response, tokens_in, tokens_out, latency_ms, created_at)
		VALUES (:request_id, :attempt, :call_type, :tier, :provider, :success, :error_kind, :error,
		 :prompt, :response, :tokens_in, :tokens_out, :latency_ms, :created_at)`,
		entry,
	)
	return err
}

// Query returns attempt entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AttemptEntry, error) {
	q := `SELECT request_id, attempt, call_type, tier, provider, success, error_kind, error,
		prompt, response, tokens_in, tokens_out, latency_ms, created_at
		FROM attempt_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.CallType != "" {
		q += " AND call_type = ?"
		args = append(args, opts.CallType)
	}
	if opts.Provider != "" {
		q += " AND provider = ?"
		args = append(args, opts.Provider)
	}
	if opts.ErrorKind != "" {
		q += " AND error_kind = ?"
		args = append(args, opts.ErrorKind)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC, attempt DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	var entries []models.AttemptEntry
	if err := l.db.SelectContext(ctx, &entries, q, args...); err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	return entries, nil
}

// Stats returns attempt and failure counts grouped by provider and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	var stats []models.AuditStat
	err := l.db.SelectContext(ctx, &stats,
		`SELECT provider, substr(created_at, 1, 10) AS day, count(*) AS attempts,
		 SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END) AS failures
		 FROM attempt_log GROUP BY provider, day ORDER BY day DESC, provider`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	return stats, nil
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM attempt_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
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
				l.log.Warn("retention cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				l.log.Debug("retention cleanup", zap.Int64("deleted", n))
			}
		}
	}
}
