// Package tracker persists per-request usage and cost so budgets and
// reports survive across runs.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/augur/pkg/models"
)

// Tracker records and queries token usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Query returns usage records since a given time, optionally filtered by call type.
	Query(ctx context.Context, callType models.CallType, since time.Time) ([]models.UsageRecord, error)
	// TotalByCallType returns live-provider tokens used since a given time.
	// An empty call type totals every call type.
	TotalByCallType(ctx context.Context, callType models.CallType, since time.Time) (int64, error)
	// Summary returns usage grouped by call type, provider and source.
	Summary(ctx context.Context, callType models.CallType) ([]models.UsageSummary, error)
	// CostReport returns estimated cost grouped by call type and provider.
	CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sqlx.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	call_type TEXT NOT NULL,
	provider TEXT NOT NULL,
	source TEXT NOT NULL,
	tick INTEGER NOT NULL,
	tokens_in INTEGER NOT NULL,
	tokens_out INTEGER NOT NULL,
	cost REAL NOT NULL,
	latency_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_type_time ON usage_records(call_type, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	_, err := t.db.NamedExecContext(ctx,
		`INSERT INTO usage_records (request_id, call_type, provider, source, tick, tokens_in, tokens_out, cost, latency_ms, created_at)
		 VALUES (:request_id, :call_type, :provider, :source, :tick, :tokens_in, :tokens_out, :cost, :latency_ms, :created_at)`,
		rec,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Query returns usage records since a given time, newest first.
func (t *SQLiteTracker) Query(ctx context.Context, callType models.CallType, since time.Time) ([]models.UsageRecord, error) {
	query := `SELECT id, request_id, call_type, provider, source, tick, tokens_in, tokens_out, cost, latency_ms, created_at
		 FROM usage_records WHERE created_at >= ?`
	args := []any{since.UTC()}
	if callType != "" {
		query += ` AND call_type = ?`
		args = append(args, string(callType))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var records []models.UsageRecord
	if err := t.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	return records, nil
}

// TotalByCallType returns live-provider tokens used since a given time.
func (t *SQLiteTracker) TotalByCallType(ctx context.Context, callType models.CallType, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(tokens_in + tokens_out), 0) FROM usage_records
		 WHERE source = ? AND created_at >= ?`
	args := []any{string(models.SourceLive), since.UTC()}
	if callType != "" {
		query += ` AND call_type = ?`
		args = append(args, string(callType))
	}

	var total int64
	if err := t.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by call type, provider and source.
func (t *SQLiteTracker) Summary(ctx context.Context, callType models.CallType) ([]models.UsageSummary, error) {
	query := `SELECT call_type, provider, source, COUNT(*) AS request_count,
		 SUM(tokens_in) AS tokens_in, SUM(tokens_out) AS tokens_out, SUM(cost) AS cost
		 FROM usage_records`
	var args []any
	if callType != "" {
		query += ` WHERE call_type = ?`
		args = append(args, string(callType))
	}
	query += ` GROUP BY call_type, provider, source ORDER BY call_type, provider, source`

	var summaries []models.UsageSummary
	if err := t.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return summaries, nil
}

// CostReport returns estimated cost grouped by call type and provider.
func (t *SQLiteTracker) CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error) {
	var reports []models.CostReport
	err := t.db.SelectContext(ctx, &reports,
		`SELECT call_type, provider, COUNT(*) AS request_count,
		 SUM(tokens_in + tokens_out) AS total_tokens, SUM(cost) AS cost
		 FROM usage_records WHERE created_at >= ?
		 GROUP BY call_type, provider ORDER BY cost DESC, call_type`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("cost report: %w", err)
	}
	return reports, nil
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
