package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/augur/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.InteractiveConcurrency != 1 || cfg.NarrativeConcurrency != 1 || cfg.AmbientConcurrency != 3 {
		t.Errorf("unexpected concurrency defaults: %d/%d/%d",
			cfg.InteractiveConcurrency, cfg.NarrativeConcurrency, cfg.AmbientConcurrency)
	}
	if cfg.InteractiveTimeout != 3*time.Second || cfg.NarrativeTimeout != 10*time.Second || cfg.AmbientTimeout != 5*time.Second {
		t.Errorf("unexpected timeout defaults")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.MaxRetries)
	}
	if cfg.FallbackCooldown != 8*time.Second {
		t.Errorf("expected 8s cooldown, got %v", cfg.FallbackCooldown)
	}
	if cfg.CacheSize != 1000 {
		t.Errorf("expected cache size 1000, got %d", cfg.CacheSize)
	}
	ttls := cfg.CacheTTLs()
	if ttls[models.CallDecision] != 120*time.Second || ttls[models.CallNarrative] != 600*time.Second || ttls[models.CallAmbient] != 300*time.Second {
		t.Errorf("unexpected TTL defaults: %v", ttls)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
save_file: "world.save"
providers:
  - name: claude
    type: anthropic
    url: https://api.anthropic.com
    api_key: ${TEST_API_KEY}
    model: claude-haiku-4-5
    cost_per_1k_tokens: 0.004
  - name: local
    type: openai
    url: http://localhost:11434
routes:
  - call_type: ambient-dialogue
    providers: [local, claude]
ambient_concurrency: 5
narrative_timeout: 20s
decision_ttl: 1m
budget:
  enabled: true
  policies:
    - call_type: "*"
      max_tokens: 500000
      period: daily
`
	dir := t.TempDir()
	path := filepath.Join(dir, "augur.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.SaveFile != "world.save" {
		t.Errorf("expected world.save, got %s", cfg.SaveFile)
	}
	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if cfg.AmbientConcurrency != 5 {
		t.Errorf("expected ambient concurrency 5, got %d", cfg.AmbientConcurrency)
	}
	if cfg.InteractiveConcurrency != 1 {
		t.Errorf("unset fields should keep defaults, got %d", cfg.InteractiveConcurrency)
	}
	if cfg.NarrativeTimeout != 20*time.Second {
		t.Errorf("expected 20s narrative timeout, got %v", cfg.NarrativeTimeout)
	}
	if cfg.DecisionTTL != time.Minute {
		t.Errorf("expected 1m decision TTL, got %v", cfg.DecisionTTL)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Providers[0] != "local" {
		t.Errorf("unexpected routes: %+v", cfg.Routes)
	}
	if !cfg.Budget.Enabled || cfg.Budget.Policies[0].MaxTokens != 500000 {
		t.Errorf("unexpected budget: %+v", cfg.Budget)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/augur.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheSize != 1000 {
		t.Errorf("expected defaults, got cache size %d", cfg.CacheSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.AmbientConcurrency = 0
	cfg.MaxRetries = -1
	cfg.Providers = []ProviderConfig{
		{Name: "a", Type: "openai"},
		{Name: "a", Type: "carrier-pigeon"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"ambient concurrency", "max_retries", "duplicate provider", "unknown type"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}
