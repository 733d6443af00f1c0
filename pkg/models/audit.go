package models

import "time"

// AttemptEntry is one provider attempt recorded in the attempt journal.
type AttemptEntry struct {
	RequestID string    `json:"request_id" db:"request_id"`
	Attempt   int       `json:"attempt" db:"attempt"`
	CallType  CallType  `json:"call_type" db:"call_type"`
	Tier      string    `json:"tier" db:"tier"`
	Provider  string    `json:"provider" db:"provider"`
	Success   bool      `json:"success" db:"success"`
	ErrorKind string    `json:"error_kind,omitempty" db:"error_kind"`
	Error     string    `json:"error,omitempty" db:"error"`
	Prompt    string    `json:"prompt,omitempty" db:"prompt"`
	Response  string    `json:"response,omitempty" db:"response"`
	TokensIn  int       `json:"tokens_in" db:"tokens_in"`
	TokensOut int       `json:"tokens_out" db:"tokens_out"`
	LatencyMs int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuditConfig controls the attempt journal.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DBPath        string   `yaml:"db_path"`
	RetentionDays int      `yaml:"retention_days"`
	Include       []string `yaml:"include"` // "prompts", "responses"
	ExcludeCalls  []string `yaml:"exclude_call_types"`
	MaxBodySize   int      `yaml:"max_body_size"` // bytes
}

// AuditQueryOpts specifies filters for querying attempt entries.
type AuditQueryOpts struct {
	CallType  string
	Provider  string
	RequestID string
	ErrorKind string
	Since     time.Time
	Limit     int
}

// AuditStat holds aggregate attempt counts for a provider/day combination.
type AuditStat struct {
	Provider string `db:"provider"`
	Day      string `db:"day"`
	Attempts int    `db:"attempts"`
	Failures int    `db:"failures"`
}
