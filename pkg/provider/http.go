package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

// HTTPConfig configures an HTTP completion backend.
type HTTPConfig struct {
	Name string
	// Type is "anthropic" or "openai". OpenAI-compatible local daemons use "openai".
	Type         string
	URL          string
	APIKey       string
	Model        string
	CostPerToken float64
	Timeout      time.Duration
}

// HTTP talks to a remote service or local daemon over HTTP.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTP creates an HTTP provider. A nil logger disables logging.
func NewHTTP(cfg HTTPConfig, logger *zap.Logger) *HTTP {
	if cfg.Type == "" {
		cfg.Type = "openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", cfg.Name)),
	}
}

func (h *HTTP) Name() string          { return h.cfg.Name }
func (h *HTTP) CostPerToken() float64 { return h.cfg.CostPerToken }

// Available reports whether the provider is configured well enough to call.
// Local daemons need no key; the Anthropic API does.
func (h *HTTP) Available(context.Context) bool {
	if h.cfg.URL == "" {
		return false
	}
	if h.cfg.Type == "anthropic" && h.cfg.APIKey == "" {
		return false
	}
	return true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one completion request and classifies any failure.
func (h *HTTP) Complete(ctx context.Context, prompt string, p Params) (Result, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	var (
		path    string
		body    any
		headers = map[string]string{}
	)
	switch h.cfg.Type {
	case "anthropic":
		path = "/v1/messages"
		body = anthropicRequest{
			Model:       h.cfg.Model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			MaxTokens:   maxTokens,
			Temperature: p.Temperature,
		}
		headers["x-api-key"] = h.cfg.APIKey
		headers["anthropic-version"] = anthropicVersion
	default:
		path = "/v1/chat/completions"
		body = openAIRequest{
			Model:       h.cfg.Model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: p.Temperature,
			MaxTokens:   maxTokens,
		}
		if h.cfg.APIKey != "" {
			headers["Authorization"] = "Bearer " + h.cfg.APIKey
		}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return Result{}, Errorf(h.cfg.Name, KindBadRequest, "marshal request: %w", err)
	}

	status, respBody, err := h.do(ctx, path, headers, reqBody)
	if err != nil {
		return Result{}, &Error{Provider: h.cfg.Name, Kind: KindOf(err), Err: err}
	}
	if kind := KindForStatus(status); kind != KindNone {
		return Result{}, Errorf(h.cfg.Name, kind, "status %d: %s", status, truncate(respBody, 256))
	}

	res, err := h.decode(respBody)
	if err != nil {
		return Result{}, Errorf(h.cfg.Name, KindMalformed, "decode response: %w", err)
	}
	h.logger.Debug("completion",
		zap.String("call_type", string(p.CallType)),
		zap.Int("tokens_in", res.TokensIn),
		zap.Int("tokens_out", res.TokensOut),
	)
	return res, nil
}

// do sends a POST to the provider and returns the status code and body.
func (h *HTTP) do(ctx context.Context, path string, headers map[string]string, body []byte) (int, []byte, error) {
	target, err := url.Parse(h.cfg.URL)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(target.String(), "/")+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (h *HTTP) decode(body []byte) (Result, error) {
	if h.cfg.Type == "anthropic" {
		var r anthropicResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return Result{}, err
		}
		var text strings.Builder
		for _, c := range r.Content {
			if c.Type == "" || c.Type == "text" {
				text.WriteString(c.Text)
			}
		}
		if text.Len() == 0 {
			return Result{}, fmt.Errorf("empty response")
		}
		return Result{Content: text.String(), TokensIn: r.Usage.InputTokens, TokensOut: r.Usage.OutputTokens}, nil
	}

	var r openAIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, err
	}
	if len(r.Choices) == 0 || r.Choices[0].Message.Content == "" {
		return Result{}, fmt.Errorf("empty response")
	}
	res := Result{Content: r.Choices[0].Message.Content}
	if r.Usage != nil {
		res.TokensIn = r.Usage.PromptTokens
		res.TokensOut = r.Usage.CompletionTokens
	}
	return res, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
