package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/augur/pkg/config"
	"github.com/pario-ai/augur/pkg/models"
)

// Chain resolves a call type to an ordered list of live providers and
// always holds the offline fallback.
type Chain struct {
	providers []Provider
	routes    map[models.CallType][]Provider
	offline   *Offline
}

// NewChain builds a chain from providers and per-call-type routes of
// provider names. Call types without a route try every provider in order.
// Unknown names in a route are skipped; a route naming no known provider
// is an error.
func NewChain(providers []Provider, routes map[models.CallType][]string) (*Chain, error) {
	index := make(map[string]Provider, len(providers))
	for _, p := range providers {
		index[p.Name()] = p
	}

	c := &Chain{
		providers: providers,
		routes:    make(map[models.CallType][]Provider, len(routes)),
		offline:   NewOffline(),
	}
	for ct, names := range routes {
		var resolved []Provider
		for _, name := range names {
			p, ok := index[name]
			if !ok {
				continue
			}
			resolved = append(resolved, p)
		}
		if len(resolved) == 0 {
			return nil, fmt.Errorf("route %q: all providers unknown", ct)
		}
		c.routes[ct] = resolved
	}
	return c, nil
}

// FromConfig builds the providers described by cfg, each wrapped in a
// Health tracker that trips once a request's worth of retries has failed
// in a row, and routes them. A nil now uses time.Now.
func FromConfig(cfg *config.Config, logger *zap.Logger, now func() time.Time) (*Chain, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		cost := pc.CostPer1KTokens / 1000
		var p Provider
		switch pc.Type {
		case "gemini":
			p = NewGemini(GeminiConfig{
				Name:         pc.Name,
				APIKey:       pc.APIKey,
				Model:        pc.Model,
				CostPerToken: cost,
			}, logger)
		default:
			p = NewHTTP(HTTPConfig{
				Name:         pc.Name,
				Type:         pc.Type,
				URL:          pc.URL,
				APIKey:       pc.APIKey,
				Model:        pc.Model,
				CostPerToken: cost,
				Timeout:      pc.Timeout,
			}, logger)
		}
		providers = append(providers, NewHealth(p, cfg.ProviderDownInterval, cfg.MaxRetries+1, now))
	}

	routes := make(map[models.CallType][]string, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes[models.CallType(r.CallType)] = r.Providers
	}
	return NewChain(providers, routes)
}

// Resolve returns the ordered providers for callType.
func (c *Chain) Resolve(callType models.CallType) []Provider {
	if r, ok := c.routes[callType]; ok {
		return r
	}
	return c.providers
}

// Live returns the first available provider for callType. The second
// result is false when none is available.
func (c *Chain) Live(ctx context.Context, callType models.CallType) (Provider, bool) {
	for _, p := range c.Resolve(callType) {
		if p.Available(ctx) {
			return p, true
		}
	}
	return nil, false
}

// Offline returns the deterministic fallback provider.
func (c *Chain) Offline() *Offline { return c.offline }

// Providers returns every configured live provider.
func (c *Chain) Providers() []Provider { return c.providers }
