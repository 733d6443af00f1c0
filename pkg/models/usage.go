package models

import "time"

// TokenCounts holds input/output sums and the estimated cost.
type TokenCounts struct {
	Requests int     `json:"requests"`
	Input    int64   `json:"input"`
	Output   int64   `json:"output"`
	Cost     float64 `json:"cost"`
}

// Add accumulates one response into the counts.
func (tc *TokenCounts) Add(in, out int, cost float64) {
	tc.Requests++
	tc.Input += int64(in)
	tc.Output += int64(out)
	tc.Cost += cost
}

// UsageStats is the orchestrator's in-memory usage and cost report.
type UsageStats struct {
	Submitted  int64 `json:"submitted"`
	Rejected   int64 `json:"rejected"`
	Cancelled  int64 `json:"cancelled"`
	Superseded int64 `json:"superseded"`
	Resolved   int64 `json:"resolved"`
	LiveCalls  int64 `json:"live_calls"`
	CacheHits  int64 `json:"cache_hits"`
	Fallbacks  int64 `json:"fallbacks"`
	Replayed   int64 `json:"replayed"`
	Malformed  int64 `json:"malformed"`

	Total      TokenCounts              `json:"total"`
	ByCallType map[CallType]TokenCounts `json:"by_call_type"`
	ByProvider map[string]TokenCounts   `json:"by_provider"`
}

// UsageRecord tracks one resolved request for the persistent tracker.
type UsageRecord struct {
	ID        int64     `json:"id" db:"id"`
	RequestID string    `json:"request_id" db:"request_id"`
	CallType  CallType  `json:"call_type" db:"call_type"`
	Provider  string    `json:"provider" db:"provider"`
	Source    Source    `json:"source" db:"source"`
	Tick      uint64    `json:"tick" db:"tick"`
	TokensIn  int       `json:"tokens_in" db:"tokens_in"`
	TokensOut int       `json:"tokens_out" db:"tokens_out"`
	Cost      float64   `json:"cost" db:"cost"`
	LatencyMs int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates usage per call type, provider and source.
type UsageSummary struct {
	CallType     CallType `json:"call_type" db:"call_type"`
	Provider     string   `json:"provider" db:"provider"`
	Source       Source   `json:"source" db:"source"`
	RequestCount int      `json:"request_count" db:"request_count"`
	TokensIn     int64    `json:"tokens_in" db:"tokens_in"`
	TokensOut    int64    `json:"tokens_out" db:"tokens_out"`
	Cost         float64  `json:"cost" db:"cost"`
}

// CostReport is an aggregated cost row grouped by call type and provider.
type CostReport struct {
	CallType     CallType `json:"call_type" db:"call_type"`
	Provider     string   `json:"provider" db:"provider"`
	RequestCount int      `json:"request_count" db:"request_count"`
	TotalTokens  int64    `json:"total_tokens" db:"total_tokens"`
	Cost         float64  `json:"cost" db:"cost"`
}
