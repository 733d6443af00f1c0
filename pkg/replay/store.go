package replay

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/augur/pkg/models"
)

const createReplayTable = `
CREATE TABLE IF NOT EXISTS replay_log (
	seq INTEGER NOT NULL PRIMARY KEY,
	tick INTEGER NOT NULL,
	call_type TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	content TEXT NOT NULL,
	outcome TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_replay_tick ON replay_log(tick, call_type);
`

// Store persists a replay log in the save file.
type Store struct {
	db *sqlx.DB
}

// NewStore creates the replay table on an open save file.
func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(createReplayTable); err != nil {
		return nil, fmt.Errorf("migrate replay table: %w", err)
	}
	return &Store{db: db}, nil
}

// Save replaces the stored log with l.
func (s *Store) Save(l *Log) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("replay save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM replay_log`); err != nil {
		return fmt.Errorf("replay save: %w", err)
	}
	stmt, err := tx.PrepareNamed(`INSERT INTO replay_log (seq, tick, call_type, fingerprint, content, outcome)
		VALUES (:seq, :tick, :call_type, :fingerprint, :content, :outcome)`)
	if err != nil {
		return fmt.Errorf("replay save: %w", err)
	}
	defer stmt.Close()

	for _, r := range l.Records() {
		if _, err := stmt.Exec(r); err != nil {
			return fmt.Errorf("insert replay record %d: %w", r.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replay save: %w", err)
	}
	return nil
}

// Load reads the stored log.
func (s *Store) Load() (*Log, error) {
	records, err := s.Query(Filter{})
	if err != nil {
		return nil, err
	}
	l, err := FromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("replay load: %w", err)
	}
	return l, nil
}

// Filter narrows Query.
type Filter struct {
	Tick     *uint64
	CallType models.CallType
	Limit    int
}

// Query returns stored records in log order.
func (s *Store) Query(f Filter) ([]models.ReplayRecord, error) {
	query := `SELECT seq, tick, call_type, fingerprint, content, outcome FROM replay_log WHERE 1=1`
	var args []any
	if f.Tick != nil {
		query += ` AND tick = ?`
		args = append(args, *f.Tick)
	}
	if f.CallType != "" {
		query += ` AND call_type = ?`
		args = append(args, string(f.CallType))
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var records []models.ReplayRecord
	if err := s.db.Select(&records, query, args...); err != nil {
		return nil, fmt.Errorf("replay query: %w", err)
	}
	return records, nil
}
