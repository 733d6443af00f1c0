// Package retry classifies provider failures, computes backoff delays and
// decides when to give up and switch to fallback mode.
//
// A Controller is not safe for concurrent use; the orchestrator owns it on a
// single goroutine.
package retry

import (
	"time"

	"github.com/pario-ai/augur/pkg/config"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/provider"
)

// Class is the retry classification of a failure.
type Class int

const (
	Retryable Class = iota
	Terminal
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "terminal"
}

// Classify maps an error kind to its retry class.
func Classify(kind provider.ErrorKind) Class {
	if kind.Retryable() {
		return Retryable
	}
	return Terminal
}

// State tracks one in-flight request.
type State struct {
	RequestID    string
	Attempts     int
	Retries      int
	NextEligible time.Time
	Class        Class
	LastKind     provider.ErrorKind
}

// Decision is the outcome of a failed attempt.
type Decision struct {
	// Retry is true when the request should be re-dispatched after Delay.
	Retry bool
	Delay time.Duration
	// Fallback is true when the request must be served by the offline
	// provider. Fallback mode has been activated.
	Fallback bool
	State    State
}

// Controller holds retry state for in-flight requests and the fallback
// mode window.
type Controller struct {
	cfg config.RetryConfig
	now func() time.Time

	states        map[string]*State
	fallbackUntil time.Time

	stats models.RetryStats
}

// New creates a Controller. A nil now uses time.Now.
func New(cfg config.RetryConfig, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{cfg: cfg, now: now, states: make(map[string]*State)}
}

// Delay returns min(base * 2^attempt, max). Attempt 0 is the first retry.
func (c *Controller) Delay(attempt int) time.Duration {
	return Backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
}

// Backoff computes min(base * 2^attempt, max) without overflowing.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if max > 0 && d >= max {
			return max
		}
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Begin records a dispatch attempt for id and returns its state.
func (c *Controller) Begin(id string) State {
	st, ok := c.states[id]
	if !ok {
		st = &State{RequestID: id}
		c.states[id] = st
	}
	st.Attempts++
	c.stats.Attempts++
	return *st
}

// OnSuccess records a successful attempt and destroys the request's state.
func (c *Controller) OnSuccess(id string) {
	st, ok := c.states[id]
	if !ok {
		return
	}
	if st.Retries > 0 {
		c.stats.SuccessesAfterRetry++
	}
	delete(c.states, id)
}

// OnFailure classifies a failed attempt. A retryable failure with retries
// left is scheduled for re-dispatch; anything else activates fallback mode
// and destroys the request's state.
func (c *Controller) OnFailure(id string, kind provider.ErrorKind) Decision {
	st, ok := c.states[id]
	if !ok {
		st = &State{RequestID: id, Attempts: 1}
	}
	st.Class = Classify(kind)
	st.LastKind = kind

	if st.Class == Retryable && st.Retries < c.cfg.MaxRetries {
		delay := c.Delay(st.Retries)
		st.Retries++
		st.NextEligible = c.now().Add(delay)
		c.states[id] = st
		c.stats.Retries++
		return Decision{Retry: true, Delay: delay, State: *st}
	}

	delete(c.states, id)
	c.stats.FailuresToFallback++
	c.activate(c.cfg.FallbackCooldown)
	return Decision{Fallback: true, State: *st}
}

// Discard drops state for a request resolved some other way.
func (c *Controller) Discard(id string) {
	delete(c.states, id)
}

// State returns the tracked state for id.
func (c *Controller) State(id string) (State, bool) {
	st, ok := c.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// InFlight returns the number of requests with retry state.
func (c *Controller) InFlight() int { return len(c.states) }

// FallbackActive reports whether fallback mode is on. An elapsed window
// clears itself.
func (c *Controller) FallbackActive() bool {
	if c.fallbackUntil.IsZero() {
		return false
	}
	if !c.now().Before(c.fallbackUntil) {
		c.fallbackUntil = time.Time{}
		return false
	}
	return true
}

// FallbackUntil returns when fallback mode ends; zero when it is off.
func (c *Controller) FallbackUntil() time.Time {
	if !c.FallbackActive() {
		return time.Time{}
	}
	return c.fallbackUntil
}

// SetFallback turns fallback mode on for d, or off. A non-positive d uses
// the configured cooldown.
func (c *Controller) SetFallback(on bool, d time.Duration) {
	if !on {
		c.fallbackUntil = time.Time{}
		return
	}
	if d <= 0 {
		d = c.cfg.FallbackCooldown
	}
	c.activate(d)
}

func (c *Controller) activate(d time.Duration) {
	until := c.now().Add(d)
	if !c.FallbackActive() {
		c.stats.FallbackActivations++
	}
	if until.After(c.fallbackUntil) {
		c.fallbackUntil = until
	}
}

// Stats returns the exposed counters.
func (c *Controller) Stats() models.RetryStats {
	s := c.stats
	s.FallbackActive = c.FallbackActive()
	return s
}
