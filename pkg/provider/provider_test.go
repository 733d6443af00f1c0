package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/pario-ai/augur/pkg/config"
	"github.com/pario-ai/augur/pkg/interpret"
	"github.com/pario-ai/augur/pkg/models"
)

func TestOfflineDeterministic(t *testing.T) {
	o := NewOffline()
	prompt := interpret.DecisionPrompt(interpret.PromptContext{Actor: "Mara", Input: "allocate food to farmers"})

	a, err := o.Complete(context.Background(), prompt, Params{CallType: models.CallDecision})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := o.Complete(context.Background(), prompt, Params{CallType: models.CallDecision})
	if a.Content != b.Content {
		t.Fatalf("offline output not deterministic:\n%s\n%s", a.Content, b.Content)
	}

	d, err := interpret.ParseDecision(a.Content)
	if err != nil {
		t.Fatalf("offline decision should parse: %v", err)
	}
	if d.Action != "allocate" || d.Target != "farmers" {
		t.Errorf("unexpected decision %+v", d)
	}
}

func TestOfflineTemplatesParse(t *testing.T) {
	o := NewOffline()
	ws := interpret.WorldSnapshot{
		Tick:     500,
		Season:   "autumn",
		Entities: []interpret.Entity{{ID: "a1", Name: "Mara"}},
	}

	events, err := interpret.ParseEvents(o.Render(models.CallNarrative, interpret.NarrativePrompt(ws)))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || len(events[0].AffectedEntityIDs) != 1 || events[0].AffectedEntityIDs[0] != "a1" {
		t.Errorf("unexpected events %+v", events)
	}

	line := o.Render(models.CallAmbient, interpret.AmbientPrompt("Mara", "Osric", "the harvest"))
	if _, err := interpret.ParseDialogue(line); err != nil {
		t.Errorf("dialogue should parse: %v", err)
	}
	if o.CostPerToken() != 0 || !o.Available(context.Background()) {
		t.Error("offline must be free and always available")
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{200, KindNone},
		{401, KindAuth},
		{403, KindAuth},
		{404, KindNotFound},
		{408, KindTimeout},
		{429, KindRateLimited},
		{500, KindServer},
		{503, KindServer},
		{422, KindBadRequest},
	}
	for _, tt := range tests {
		if got := KindForStatus(tt.code); got != tt.want {
			t.Errorf("KindForStatus(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != KindNone {
		t.Error("nil should be KindNone")
	}
	if KindOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)) != KindTimeout {
		t.Error("deadline should be KindTimeout")
	}
	if KindOf(errors.New("dial tcp: refused")) != KindConnection {
		t.Error("unclassified errors should be KindConnection")
	}
	wrapped := fmt.Errorf("attempt: %w", Errorf("p", KindRateLimited, "slow down"))
	if KindOf(wrapped) != KindRateLimited {
		t.Error("wrapped *Error should keep its kind")
	}
	if !KindServer.Retryable() || KindAuth.Retryable() || KindMalformed.Retryable() {
		t.Error("unexpected Retryable classification")
	}
}

func TestHTTPOpenAI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Error("expected provider API key")
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if req.Model != "local-7b" || req.MaxTokens != 64 {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`)
	}))
	defer upstream.Close()

	p := NewHTTP(HTTPConfig{Name: "local", URL: upstream.URL, APIKey: "sk-test", Model: "local-7b"}, nil)
	res, err := p.Complete(context.Background(), "hi", Params{MaxTokens: 64})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello" || res.TokensIn != 7 || res.TokensOut != 3 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHTTPAnthropic(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") == "" {
			t.Error("expected anthropic headers")
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":4,"output_tokens":2}}`)
	}))
	defer upstream.Close()

	p := NewHTTP(HTTPConfig{Name: "claude", Type: "anthropic", URL: upstream.URL, APIKey: "sk-ant"}, nil)
	res, err := p.Complete(context.Background(), "hi", Params{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hi there" || res.TokensIn != 4 {
		t.Errorf("unexpected result %+v", res)
	}

	if NewHTTP(HTTPConfig{Name: "nokey", Type: "anthropic", URL: upstream.URL}, nil).Available(context.Background()) {
		t.Error("anthropic without key should be unavailable")
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, KindRateLimited},
		{"server", http.StatusBadGateway, `{}`, KindServer},
		{"auth", http.StatusUnauthorized, `{}`, KindAuth},
		{"malformed", http.StatusOK, `not json`, KindMalformed},
		{"empty", http.StatusOK, `{"choices":[]}`, KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer upstream.Close()

			p := NewHTTP(HTTPConfig{Name: "x", URL: upstream.URL}, nil)
			_, err := p.Complete(context.Background(), "hi", Params{})
			if got := KindOf(err); got != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestHTTPConnectionFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	p := NewHTTP(HTTPConfig{Name: "gone", URL: url}, nil)
	_, err := p.Complete(context.Background(), "hi", Params{})
	if KindOf(err) != KindConnection {
		t.Errorf("expected connection failure, got %v", err)
	}
}

type stubProvider struct {
	name      string
	available bool
	kind      ErrorKind
}

func (s *stubProvider) Name() string                    { return s.name }
func (s *stubProvider) Available(context.Context) bool { return s.available }
func (s *stubProvider) CostPerToken() float64           { return 0.001 }
func (s *stubProvider) Complete(context.Context, string, Params) (Result, error) {
	if s.kind != KindNone {
		return Result{}, Errorf(s.name, s.kind, "stub")
	}
	return Result{Content: "ok", TokensIn: 1, TokensOut: 1}, nil
}

func TestHealthMarksDown(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	stub := &stubProvider{name: "a", available: true, kind: KindConnection}
	h := NewHealth(stub, 30*time.Second, 2, clock)

	if _, err := h.Complete(context.Background(), "x", Params{}); err == nil {
		t.Fatal("expected failure")
	}
	if !h.Available(context.Background()) {
		t.Error("one failure is below the threshold")
	}
	h.Complete(context.Background(), "x", Params{})
	if h.Available(context.Background()) {
		t.Error("provider should be down after two connection failures")
	}
	if until, kind := h.DownUntil(); until.IsZero() || kind != KindConnection {
		t.Errorf("unexpected DownUntil %v %s", until, kind)
	}

	now = now.Add(31 * time.Second)
	if !h.Available(context.Background()) {
		t.Error("provider should recover after the interval")
	}

	stub.kind = KindServer
	h.Complete(context.Background(), "x", Params{})
	h.Complete(context.Background(), "x", Params{})
	if !h.Available(context.Background()) {
		t.Error("server errors should not take the provider down")
	}
}

func TestHealthSuccessResetsFailures(t *testing.T) {
	stub := &stubProvider{name: "a", available: true, kind: KindRateLimited}
	h := NewHealth(stub, time.Minute, 2, nil)

	h.Complete(context.Background(), "x", Params{})
	stub.kind = KindNone
	if _, err := h.Complete(context.Background(), "x", Params{}); err != nil {
		t.Fatal(err)
	}
	stub.kind = KindRateLimited
	h.Complete(context.Background(), "x", Params{})
	if !h.Available(context.Background()) {
		t.Error("failures were not consecutive")
	}
}

func TestChainResolve(t *testing.T) {
	a := &stubProvider{name: "a", available: true}
	b := &stubProvider{name: "b", available: true}

	c, err := NewChain([]Provider{a, b}, map[models.CallType][]string{
		models.CallNarrative: {"unknown", "b", "a"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := c.Resolve(models.CallNarrative)
	if len(got) != 2 || got[0].Name() != "b" || got[1].Name() != "a" {
		t.Errorf("unexpected narrative route %v", got)
	}
	if got := c.Resolve(models.CallDecision); len(got) != 2 || got[0].Name() != "a" {
		t.Errorf("unrouted call types should use every provider in order, got %v", got)
	}

	b.available = false
	p, ok := c.Live(context.Background(), models.CallNarrative)
	if !ok || p.Name() != "a" {
		t.Errorf("expected cascade to a, got %v", p)
	}

	a.available = false
	if _, ok := c.Live(context.Background(), models.CallNarrative); ok {
		t.Error("expected no live provider")
	}
	if c.Offline() == nil {
		t.Error("offline provider must always be present")
	}
}

func TestChainAllUnknown(t *testing.T) {
	_, err := NewChain([]Provider{&stubProvider{name: "a"}}, map[models.CallType][]string{
		models.CallAmbient: {"nope"},
	})
	if err == nil {
		t.Fatal("expected error for route with only unknown providers")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{Name: "local", Type: "openai", URL: "http://127.0.0.1:1", CostPer1KTokens: 2},
		{Name: "gem", Type: "gemini"},
	}
	cfg.Routes = []config.RouteConfig{{CallType: string(models.CallAmbient), Providers: []string{"gem", "local"}}}

	c, err := FromConfig(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Providers()) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(c.Providers()))
	}
	if got := c.Providers()[0].CostPerToken(); got != 0.002 {
		t.Errorf("expected cost per token 0.002, got %v", got)
	}

	// gemini without a key is unavailable, so ambient cascades to local
	p, ok := c.Live(context.Background(), models.CallAmbient)
	if !ok || p.Name() != "local" {
		t.Errorf("expected local, got %v", p)
	}
}

func TestGeminiClientCreationRetried(t *testing.T) {
	g := NewGemini(GeminiConfig{APIKey: "k"}, nil)
	var calls int
	g.newClient = func(ctx context.Context, _ *genai.ClientConfig) (*genai.Client, error) {
		calls++
		if ctx.Err() != nil {
			t.Errorf("client created with a done context: %v", ctx.Err())
		}
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return &genai.Client{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Complete(ctx, "hi", Params{}); KindOf(err) != KindAuth {
		t.Fatalf("expected auth failure from client creation, got %v", err)
	}

	first, err := g.clientFor()
	if err != nil || first == nil {
		t.Fatalf("expected client after retry, got %v", err)
	}
	second, _ := g.clientFor()
	if first != second || calls != 2 {
		t.Errorf("expected client to be created once after the failure, calls=%d", calls)
	}
}
