// Package provider defines the completion backend interface and its
// implementations: remote HTTP services, Gemini, and the deterministic
// offline fallback.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pario-ai/augur/pkg/models"
)

// ErrorKind classifies a failed completion.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTimeout
	KindConnection
	KindRateLimited
	KindServer
	KindAuth
	KindBadRequest
	KindNotFound
	KindMalformed
	KindBudget
)

var kindNames = map[ErrorKind]string{
	KindNone:        "none",
	KindTimeout:     "timeout",
	KindConnection:  "connection_failure",
	KindRateLimited: "rate_limited",
	KindServer:      "server_error",
	KindAuth:        "auth_failure",
	KindBadRequest:  "bad_request",
	KindNotFound:    "not_found",
	KindMalformed:   "malformed_response",
	KindBudget:      "budget_exceeded",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether a failure of this kind may succeed if re-sent.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindConnection, KindRateLimited, KindServer:
		return true
	}
	return false
}

// Params are the per-call generation settings.
type Params struct {
	CallType    models.CallType
	MaxTokens   int
	Temperature float64
}

// Result is a successful completion.
type Result struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// Provider is one completion backend.
type Provider interface {
	// Name identifies the provider in logs, usage and routes.
	Name() string
	// Available reports whether the provider should be tried right now.
	Available(ctx context.Context) bool
	// Complete runs one completion. Failures are returned as *Error.
	Complete(ctx context.Context, prompt string, p Params) (Result, error)
	// CostPerToken is the estimated cost of one token in or out.
	CostPerToken() float64
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error for provider name.
func Errorf(name string, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Provider: name, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies any error returned by a provider. Unclassified errors
// from the transport layer map to timeout or connection failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return KindNone
	case code == 401 || code == 403:
		return KindAuth
	case code == 404:
		return KindNotFound
	case code == 408:
		return KindTimeout
	case code == 429:
		return KindRateLimited
	case code >= 500:
		return KindServer
	default:
		return KindBadRequest
	}
}

// Cost returns the estimated cost of a result for p.
func Cost(p Provider, r Result) float64 {
	return float64(r.TokensIn+r.TokensOut) * p.CostPerToken()
}
