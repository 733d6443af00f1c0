package models

import "time"

// CacheEntry stores a cached model response.
type CacheEntry struct {
	Key       string        `json:"key" db:"key"`
	CallType  CallType      `json:"call_type" db:"call_type"`
	Content   string        `json:"content" db:"content"`
	TokensIn  int           `json:"tokens_in" db:"tokens_in"`
	TokensOut int           `json:"tokens_out" db:"tokens_out"`
	Cost      float64       `json:"cost" db:"cost"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	LastUsed  time.Time     `json:"last_used" db:"last_used"`
	TTL       time.Duration `json:"ttl" db:"-"`
}

// Expired reports whether the entry is stale at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries   int64   `json:"entries"`
	Capacity  int64   `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	SavedCost float64 `json:"saved_cost"`
}
