package models

import (
	"fmt"
	"time"
)

// Tier is a dispatch priority class. Lower values dispatch first.
type Tier int

const (
	TierInteractive Tier = iota
	TierNarrative
	TierAmbient
)

// NumTiers is the number of dispatch tiers.
const NumTiers = 3

// Tiers lists every tier in dispatch order.
var Tiers = [NumTiers]Tier{TierInteractive, TierNarrative, TierAmbient}

// String returns the lower-case tier name.
func (t Tier) String() string {
	switch t {
	case TierInteractive:
		return "interactive"
	case TierNarrative:
		return "narrative"
	case TierAmbient:
		return "ambient"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t >= TierInteractive && t <= TierAmbient
}

// ParseTier converts a tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "interactive":
		return TierInteractive, nil
	case "narrative":
		return TierNarrative, nil
	case "ambient":
		return TierAmbient, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// CallType identifies the kind of model call. It selects the cache TTL,
// the offline template family and the response parser.
type CallType string

const (
	CallDecision  CallType = "decision-interpretation"
	CallNarrative CallType = "narrative-generation"
	CallAmbient   CallType = "ambient-dialogue"
)

// CallTypes lists the built-in call types.
var CallTypes = []CallType{CallDecision, CallNarrative, CallAmbient}

// DefaultTier returns the tier a call type is submitted on when the caller
// does not choose one.
func (c CallType) DefaultTier() Tier {
	switch c {
	case CallDecision:
		return TierInteractive
	case CallNarrative:
		return TierNarrative
	default:
		return TierAmbient
	}
}

// Source records which path produced a Response.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
	SourceReplay   Source = "replay"
)

// Request is a single model call submitted by the simulation.
// It is immutable once submitted.
type Request struct {
	ID       string   `json:"id"`
	Tier     Tier     `json:"tier"`
	CallType CallType `json:"call_type"`
	// Subject groups requests that supersede each other while queued,
	// e.g. "world-snapshot" or an entity id. Empty means never superseded.
	Subject       string        `json:"subject,omitempty"`
	Prompt        string        `json:"prompt"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   float64       `json:"temperature"`
	SubmittedTick uint64        `json:"submitted_tick"`
	Deadline      time.Duration `json:"deadline,omitempty"` // zero uses the tier timeout
}

// Response is the terminal result delivered to a request's continuation.
type Response struct {
	RequestID string        `json:"request_id"`
	Content   string        `json:"content"`
	Success   bool          `json:"success"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	Cost      float64       `json:"cost"`
	Latency   time.Duration `json:"latency"`
	Source    Source        `json:"source"`
	Provider  string        `json:"provider,omitempty"`
	// Err is only set when no content could be produced, which happens
	// in replay mode when the log has diverged from the simulation.
	Err error `json:"-"`
}
