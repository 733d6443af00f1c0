package provider

import (
	"context"
	"sync"
	"time"
)

// Health wraps a provider and reports it unavailable for a while after
// threshold consecutive connection failures or rate limits, so the chain
// moves on to the next one. Fewer failures are left to the retry
// controller.
type Health struct {
	Provider

	interval  time.Duration
	threshold int
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	downUntil time.Time
	lastKind  ErrorKind
}

// NewHealth wraps p. A threshold below 1 marks the provider down on the
// first failure. A nil now uses time.Now.
func NewHealth(p Provider, interval time.Duration, threshold int, now func() time.Time) *Health {
	if now == nil {
		now = time.Now
	}
	if threshold < 1 {
		threshold = 1
	}
	return &Health{Provider: p, interval: interval, threshold: threshold, now: now}
}

// Available is false while the provider is marked down.
func (h *Health) Available(ctx context.Context) bool {
	h.mu.Lock()
	down := h.now().Before(h.downUntil)
	h.mu.Unlock()
	if down {
		return false
	}
	return h.Provider.Available(ctx)
}

// Complete forwards to the wrapped provider and records its health.
func (h *Health) Complete(ctx context.Context, prompt string, p Params) (Result, error) {
	res, err := h.Provider.Complete(ctx, prompt, p)
	switch kind := KindOf(err); kind {
	case KindConnection, KindRateLimited:
		h.mu.Lock()
		h.failures++
		trip := h.failures >= h.threshold
		h.mu.Unlock()
		if trip {
			h.MarkDown(kind)
		}
	case KindNone:
		h.mu.Lock()
		h.failures = 0
		h.downUntil = time.Time{}
		h.lastKind = KindNone
		h.mu.Unlock()
	}
	return res, err
}

// MarkDown takes the provider out of rotation for the configured interval.
func (h *Health) MarkDown(kind ErrorKind) {
	if h.interval <= 0 {
		return
	}
	h.mu.Lock()
	h.failures = 0
	h.downUntil = h.now().Add(h.interval)
	h.lastKind = kind
	h.mu.Unlock()
}

// DownUntil returns when the provider comes back and why it went down.
// The zero time means it is up.
func (h *Health) DownUntil() (time.Time, ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.now().Before(h.downUntil) {
		return time.Time{}, KindNone
	}
	return h.downUntil, h.lastKind
}
