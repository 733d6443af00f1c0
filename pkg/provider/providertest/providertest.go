// Package providertest provides scripted providers for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/pario-ai/augur/pkg/provider"
)

// Step is one scripted outcome. A zero Kind succeeds with Content.
type Step struct {
	Kind    provider.ErrorKind
	Content string
}

// Scripted replays Steps in order, then repeats Default forever.
type Scripted struct {
	name    string
	cost    float64
	Default Step
	// Block, when non-nil, is received from before each call returns.
	Block chan struct{}

	mu        sync.Mutex
	steps     []Step
	calls     int
	prompts   []string
	available bool
}

// New returns a provider that always succeeds with content.
func New(name, content string) *Scripted {
	return &Scripted{name: name, Default: Step{Content: content}, available: true}
}

// Fail queues n failures of kind ahead of the default outcome.
func (s *Scripted) Fail(n int, kind provider.ErrorKind) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.steps = append(s.steps, Step{Kind: kind})
	}
	return s
}

// Then queues one explicit step.
func (s *Scripted) Then(step Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	return s
}

// WithCost sets the per-token cost.
func (s *Scripted) WithCost(c float64) *Scripted {
	s.cost = c
	return s
}

// SetAvailable toggles Available.
func (s *Scripted) SetAvailable(ok bool) {
	s.mu.Lock()
	s.available = ok
	s.mu.Unlock()
}

func (s *Scripted) Name() string          { return s.name }
func (s *Scripted) CostPerToken() float64 { return s.cost }

func (s *Scripted) Available(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *Scripted) Complete(ctx context.Context, prompt string, _ provider.Params) (provider.Result, error) {
	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	step := s.Default
	if len(s.steps) > 0 {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	block := s.Block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return provider.Result{}, &provider.Error{Provider: s.name, Kind: provider.KindTimeout, Err: ctx.Err()}
		}
	}

	if step.Kind != provider.KindNone {
		return provider.Result{}, provider.Errorf(s.name, step.Kind, "scripted failure")
	}
	return provider.Result{Content: step.Content, TokensIn: 10, TokensOut: 20}, nil
}

// Calls returns how many times Complete was called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns the prompts received, in call order.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
