package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/augur/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all augur configuration as one flat record.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Routes    []RouteConfig    `yaml:"routes"`

	SaveFile string `yaml:"save_file"`
	UsageDB  string `yaml:"usage_db"`
	LogLevel string `yaml:"log_level"`

	InteractiveConcurrency int `yaml:"interactive_concurrency"`
	NarrativeConcurrency   int `yaml:"narrative_concurrency"`
	AmbientConcurrency     int `yaml:"ambient_concurrency"`
	// MaxInFlight caps provider calls across all tiers. Zero means only the
	// tier caps apply.
	MaxInFlight int `yaml:"max_in_flight"`

	InteractiveTimeout time.Duration `yaml:"interactive_timeout"`
	NarrativeTimeout   time.Duration `yaml:"narrative_timeout"`
	AmbientTimeout     time.Duration `yaml:"ambient_timeout"`

	MaxRetries           int           `yaml:"max_retries"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay        time.Duration `yaml:"retry_max_delay"`
	FallbackCooldown     time.Duration `yaml:"fallback_cooldown"`
	ProviderDownInterval time.Duration `yaml:"provider_down_interval"`

	CacheSize    int           `yaml:"cache_size"`
	DecisionTTL  time.Duration `yaml:"decision_ttl"`
	NarrativeTTL time.Duration `yaml:"narrative_ttl"`
	AmbientTTL   time.Duration `yaml:"ambient_ttl"`

	Budget BudgetConfig       `yaml:"budget"`
	Audit  models.AuditConfig `yaml:"audit"`
}

// ProviderConfig defines one completion backend.
// Type is "anthropic", "openai" (also local OpenAI-compatible daemons) or "gemini".
type ProviderConfig struct {
	Name            string        `yaml:"name"`
	Type            string        `yaml:"type"`
	URL             string        `yaml:"url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	CostPer1KTokens float64       `yaml:"cost_per_1k_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// RouteConfig maps a call type to an ordered list of provider names.
type RouteConfig struct {
	CallType  string   `yaml:"call_type"`
	Providers []string `yaml:"providers"`
}

// BudgetConfig controls budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// RetryConfig is the subset of Config used by the retry controller.
type RetryConfig struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	FallbackCooldown time.Duration
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		SaveFile: "augur.save",
		UsageDB:  "augur-usage.db",
		LogLevel: "info",

		InteractiveConcurrency: 1,
		NarrativeConcurrency:   1,
		AmbientConcurrency:     3,

		InteractiveTimeout: 3 * time.Second,
		NarrativeTimeout:   10 * time.Second,
		AmbientTimeout:     5 * time.Second,

		MaxRetries:           3,
		RetryBaseDelay:       250 * time.Millisecond,
		RetryMaxDelay:        4 * time.Second,
		FallbackCooldown:     8 * time.Second,
		ProviderDownInterval: 30 * time.Second,

		CacheSize:    1000,
		DecisionTTL:  120 * time.Second,
		NarrativeTTL: 600 * time.Second,
		AmbientTTL:   300 * time.Second,

		Audit: models.AuditConfig{
			DBPath:        "augur-audit.db",
			RetentionDays: 30,
			MaxBodySize:   8192,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path when it is non-empty and exists, otherwise
// returns Default.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects values the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for tier, n := range c.TierCaps() {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s concurrency must be positive, got %d", tier, n))
		}
	}
	for tier, d := range c.TierTimeouts() {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s timeout must be positive, got %s", tier, d))
		}
	}
	if c.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("max_in_flight must not be negative, got %d", c.MaxInFlight))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_size must be positive, got %d", c.CacheSize))
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("provider without name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate provider %q", p.Name))
		}
		seen[p.Name] = true
		switch p.Type {
		case "", "openai", "anthropic", "gemini":
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TierCaps returns the per-tier concurrency caps.
func (c *Config) TierCaps() map[models.Tier]int {
	return map[models.Tier]int{
		models.TierInteractive: c.InteractiveConcurrency,
		models.TierNarrative:   c.NarrativeConcurrency,
		models.TierAmbient:     c.AmbientConcurrency,
	}
}

// TierTimeouts returns the per-tier timeouts.
func (c *Config) TierTimeouts() map[models.Tier]time.Duration {
	return map[models.Tier]time.Duration{
		models.TierInteractive: c.InteractiveTimeout,
		models.TierNarrative:   c.NarrativeTimeout,
		models.TierAmbient:     c.AmbientTimeout,
	}
}

// CacheTTLs returns the per-call-type cache TTLs.
func (c *Config) CacheTTLs() map[models.CallType]time.Duration {
	return map[models.CallType]time.Duration{
		models.CallDecision:  c.DecisionTTL,
		models.CallNarrative: c.NarrativeTTL,
		models.CallAmbient:   c.AmbientTTL,
	}
}

// RetryConfig returns the retry controller settings.
func (c *Config) RetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       c.MaxRetries,
		BaseDelay:        c.RetryBaseDelay,
		MaxDelay:         c.RetryMaxDelay,
		FallbackCooldown: c.FallbackCooldown,
	}
}
