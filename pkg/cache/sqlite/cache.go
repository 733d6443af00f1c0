// Package sqlite persists response cache snapshots into the simulation's
// save file.
package sqlite

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/augur/pkg/models"
)

// Store saves and loads cache entries in a SQLite save file.
type Store struct {
	db *sqlx.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT NOT NULL PRIMARY KEY,
	call_type TEXT NOT NULL,
	content TEXT NOT NULL,
	tokens_in INTEGER NOT NULL,
	tokens_out INTEGER NOT NULL,
	cost REAL NOT NULL,
	created_at INTEGER NOT NULL,
	last_used INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);
`

type entryRow struct {
	Key        string  `db:"fingerprint"`
	CallType   string  `db:"call_type"`
	Content    string  `db:"content"`
	TokensIn   int     `db:"tokens_in"`
	TokensOut  int     `db:"tokens_out"`
	Cost       float64 `db:"cost"`
	CreatedAt  int64   `db:"created_at"`
	LastUsed   int64   `db:"last_used"`
	TTLSeconds int64   `db:"ttl_seconds"`
}

// Open opens or creates the save file at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open save file: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a Store on an already open save file.
func New(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(createCacheTable); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying connection so other save-file tables can share it.
func (s *Store) DB() *sqlx.DB { return s.db }

// Save replaces the stored snapshot with entries.
func (s *Store) Save(entries []models.CacheEntry) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	for _, e := range entries {
		row := entryRow{
			Key:        e.Key,
			CallType:   string(e.CallType),
			Content:    e.Content,
			TokensIn:   e.TokensIn,
			TokensOut:  e.TokensOut,
			Cost:       e.Cost,
			CreatedAt:  e.CreatedAt.UnixNano(),
			LastUsed:   e.LastUsed.UnixNano(),
			TTLSeconds: int64(e.TTL / time.Second),
		}
		_, err := tx.NamedExec(`INSERT INTO cache_entries
			(fingerprint, call_type, content, tokens_in, tokens_out, cost, created_at, last_used, ttl_seconds)
			VALUES (:fingerprint, :call_type, :content, :tokens_in, :tokens_out, :cost, :created_at, :last_used, :ttl_seconds)`, row)
		if err != nil {
			return fmt.Errorf("insert cache entry %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	return nil
}

// Load returns the saved entries, least recently used first.
func (s *Store) Load() ([]models.CacheEntry, error) {
	var rows []entryRow
	if err := s.db.Select(&rows, `SELECT * FROM cache_entries ORDER BY last_used, fingerprint`); err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	entries := make([]models.CacheEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, models.CacheEntry{
			Key:       r.Key,
			CallType:  models.CallType(r.CallType),
			Content:   r.Content,
			TokensIn:  r.TokensIn,
			TokensOut: r.TokensOut,
			Cost:      r.Cost,
			CreatedAt: time.Unix(0, r.CreatedAt),
			LastUsed:  time.Unix(0, r.LastUsed),
			TTL:       time.Duration(r.TTLSeconds) * time.Second,
		})
	}
	return entries, nil
}

// Stats summarizes the saved snapshot as of now.
func (s *Store) Stats(now time.Time) (models.CacheStats, error) {
	var stats models.CacheStats
	err := s.db.QueryRowx(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN ? - created_at >= ttl_seconds * 1000000000 THEN 1 ELSE 0 END), 0)
		 FROM cache_entries`, now.UnixNano(),
	).Scan(&stats.Entries, &stats.Expired)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// Clear removes saved entries. If expiredOnly is true, only entries stale at
// now are removed. It returns the number removed.
func (s *Store) Clear(expiredOnly bool, now time.Time) (int64, error) {
	query := `DELETE FROM cache_entries`
	var args []any
	if expiredOnly {
		query += ` WHERE ? - created_at >= ttl_seconds * 1000000000`
		args = append(args, now.UnixNano())
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
