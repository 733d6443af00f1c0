package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	Name         string
	APIKey       string
	Model        string
	CostPerToken float64
}

// Gemini calls Google's Gemini API through the genai SDK. The client is
// created lazily on first use; a failed creation is retried on the next
// call.
type Gemini struct {
	cfg       GeminiConfig
	logger    *zap.Logger
	newClient func(context.Context, *genai.ClientConfig) (*genai.Client, error)

	mu     sync.Mutex
	client *genai.Client
}

// NewGemini creates a Gemini provider. A nil logger disables logging.
func NewGemini(cfg GeminiConfig, logger *zap.Logger) *Gemini {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		cfg:       cfg,
		logger:    logger.With(zap.String("provider", cfg.Name)),
		newClient: genai.NewClient,
	}
}

func (g *Gemini) Name() string          { return g.cfg.Name }
func (g *Gemini) CostPerToken() float64 { return g.cfg.CostPerToken }

// Available reports whether an API key is configured.
func (g *Gemini) Available(context.Context) bool { return g.cfg.APIKey != "" }

// clientFor is not tied to any request's context: the client outlives it.
func (g *Gemini) clientFor() (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	c, err := g.newClient(context.Background(), &genai.ClientConfig{
		APIKey:  g.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		g.logger.Warn("gemini client", zap.Error(err))
		return nil, err
	}
	g.client = c
	return c, nil
}

// Complete runs a single GenerateContent call.
func (g *Gemini) Complete(ctx context.Context, prompt string, p Params) (Result, error) {
	client, err := g.clientFor()
	if err != nil {
		return Result{}, Errorf(g.cfg.Name, KindAuth, "create client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(p.Temperature)),
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := client.Models.GenerateContent(ctx, g.cfg.Model, contents, cfg)
	if err != nil {
		return Result{}, &Error{Provider: g.cfg.Name, Kind: geminiKind(err), Err: err}
	}

	text := resp.Text()
	if text == "" {
		return Result{}, Errorf(g.cfg.Name, KindMalformed, "empty response")
	}

	res := Result{Content: text}
	if u := resp.UsageMetadata; u != nil {
		res.TokensIn = int(u.PromptTokenCount)
		res.TokensOut = int(u.CandidatesTokenCount)
	}
	g.logger.Debug("completion",
		zap.String("call_type", string(p.CallType)),
		zap.Int("tokens_in", res.TokensIn),
		zap.Int("tokens_out", res.TokensOut),
	)
	return res, nil
}

func geminiKind(err error) ErrorKind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return KindForStatus(apiErr.Code)
	}
	return KindOf(err)
}

func (g *Gemini) String() string { return fmt.Sprintf("gemini:%s", g.cfg.Model) }
