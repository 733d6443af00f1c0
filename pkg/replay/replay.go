// Package replay is the append-only log of resolved responses that lets a
// simulation run be re-executed without contacting a provider.
package replay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pario-ai/augur/pkg/models"
)

var (
	// ErrDivergence means the log has no record where the simulation
	// expects one: the log and the simulation's seed have diverged.
	ErrDivergence = errors.New("replay divergence")
	// ErrNonMonotonic is returned by Append for a tick lower than the last.
	ErrNonMonotonic = errors.New("replay tick went backwards")
)

// DivergenceError describes where replay diverged.
type DivergenceError struct {
	Tick        uint64
	CallType    models.CallType
	Fingerprint string
	// Logged is the fingerprint found in the log, if any record existed.
	Logged string
}

func (e *DivergenceError) Error() string {
	if e.Logged != "" {
		return fmt.Sprintf("replay divergence at tick %d (%s): fingerprint %.12s, log has %.12s",
			e.Tick, e.CallType, e.Fingerprint, e.Logged)
	}
	return fmt.Sprintf("replay divergence at tick %d (%s): no record", e.Tick, e.CallType)
}

func (e *DivergenceError) Unwrap() error { return ErrDivergence }

type key struct {
	tick     uint64
	callType models.CallType
}

// Log holds replay records in append order. Records sharing a tick and call
// type are consumed in the order they were appended.
type Log struct {
	mu      sync.Mutex
	records []models.ReplayRecord
	byKey   map[key][]int
	cursor  map[key]int
	last    uint64
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{byKey: make(map[key][]int), cursor: make(map[key]int)}
}

// FromRecords builds a log from saved records. They must be non-decreasing
// in tick.
func FromRecords(records []models.ReplayRecord) (*Log, error) {
	l := NewLog()
	for _, r := range records {
		if _, err := l.AppendRecord(r); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append adds a resolved record and returns it with its sequence number.
func (l *Log) Append(tick uint64, callType models.CallType, fingerprint, content string) (models.ReplayRecord, error) {
	return l.AppendRecord(models.ReplayRecord{
		Tick:        tick,
		CallType:    callType,
		Fingerprint: fingerprint,
		Content:     content,
	})
}

// AppendRecord adds r, outcome included. Its Seq is assigned by the log.
func (l *Log) AppendRecord(r models.ReplayRecord) (models.ReplayRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) > 0 && r.Tick < l.last {
		return models.ReplayRecord{}, fmt.Errorf("append tick %d after %d: %w", r.Tick, l.last, ErrNonMonotonic)
	}
	r.Seq = int64(len(l.records))
	k := key{r.Tick, r.CallType}
	l.byKey[k] = append(l.byKey[k], len(l.records))
	l.records = append(l.records, r)
	l.last = r.Tick
	return r, nil
}

// Replay returns the next unconsumed record for tick and call type.
func (l *Log) Replay(tick uint64, callType models.CallType) (models.ReplayRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{tick, callType}
	idx := l.byKey[k]
	n := l.cursor[k]
	if n >= len(idx) {
		return models.ReplayRecord{}, &DivergenceError{Tick: tick, CallType: callType}
	}
	l.cursor[k] = n + 1
	return l.records[idx[n]], nil
}

// Match is Replay plus a fingerprint check.
func (l *Log) Match(tick uint64, callType models.CallType, fingerprint string) (models.ReplayRecord, error) {
	r, err := l.Replay(tick, callType)
	if err != nil {
		var de *DivergenceError
		if errors.As(err, &de) {
			de.Fingerprint = fingerprint
		}
		return r, err
	}
	if r.Fingerprint != fingerprint {
		return r, &DivergenceError{Tick: tick, CallType: callType, Fingerprint: fingerprint, Logged: r.Fingerprint}
	}
	return r, nil
}

// Rewind resets every consumption cursor.
func (l *Log) Rewind() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cursor = make(map[key]int)
}

// Records returns a copy of the log.
func (l *Log) Records() []models.ReplayRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.ReplayRecord(nil), l.records...)
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// LastTick returns the tick of the newest record.
func (l *Log) LastTick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
