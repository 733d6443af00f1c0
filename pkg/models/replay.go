package models

// ReplayOutcome records how a logged request ended when it produced no
// content.
type ReplayOutcome string

const (
	OutcomeResolved  ReplayOutcome = ""
	OutcomeRejected  ReplayOutcome = "rejected"
	OutcomeCancelled ReplayOutcome = "cancelled"
)

// ReplayRecord is one logged response, keyed by the tick its request was
// submitted on.
type ReplayRecord struct {
	Seq         int64         `json:"seq" db:"seq"`
	Tick        uint64        `json:"tick" db:"tick"`
	CallType    CallType      `json:"call_type" db:"call_type"`
	Fingerprint string        `json:"fingerprint" db:"fingerprint"`
	Content     string        `json:"content" db:"content"`
	Outcome     ReplayOutcome `json:"outcome,omitempty" db:"outcome"`
}
