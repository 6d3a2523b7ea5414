// Package mistral provides a textgen provider backed by the Mistral chat
// completions REST API. Mistral has no speech endpoint here, so the provider
// handles text only.
package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nord-m/coursevoice/internal/resilience"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

const (
	defaultBaseURL     = "https://api.mistral.ai/v1"
	defaultModel       = "mistral-small-latest"
	fallbackModel      = "open-mistral-7b"
	defaultTemperature = 1.0
	defaultMaxTokens   = 1024
)

// Mistral rate-limits aggressively on the free tier, so 429 joins the usual
// model-mismatch statuses in the fallback set.
var retryable = []int{400, 404, 422, 429}

// Compile-time assertion that Provider satisfies textgen.Provider.
var _ textgen.Provider = (*Provider)(nil)

// Provider implements textgen.Provider using the Mistral REST API.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	policy  resilience.ModelFallback
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimSuffix(url, "/") }
}

// WithModels overrides the primary and fallback models.
func WithModels(primary, fallback string) Option {
	return func(p *Provider) {
		p.policy.Primary = primary
		p.policy.Fallback = fallback
	}
}

// WithHTTPClient overrides the HTTP client (e.g. to set a timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New constructs a new Mistral Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("mistral: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
		policy: resilience.ModelFallback{
			Primary:   defaultModel,
			Fallback:  fallbackModel,
			Retryable: retryable,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements textgen.Provider.
func (p *Provider) Name() string { return "mistral" }

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error) {
	policy := p.policy
	if req.Options.ModelName != "" {
		policy.Primary = req.Options.ModelName
	}

	text, model, err := resilience.Execute(policy, func(model string) (string, error) {
		return p.complete(ctx, model, req)
	})
	if err != nil {
		return nil, fmt.Errorf("mistral: chat completion: %w", err)
	}
	return &textgen.Result{Text: text, Model: model}, nil
}

// Wire format for the chat completions endpoint.

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			// Content is usually a plain string but some models return an
			// array of typed content parts.
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete performs one chat completion call against the given model.
func (p *Provider) complete(ctx context.Context, model string, req textgen.Request) (string, error) {
	messages := make([]message, 0, len(req.Turns))
	for _, t := range req.Turns {
		messages = append(messages, message{Role: string(t.Role), Content: t.Text})
	}

	temperature := defaultTemperature
	if req.Options.Temperature != nil {
		temperature = *req.Options.Temperature
	}
	maxTokens := defaultMaxTokens
	if req.Options.MaxTokens != nil {
		maxTokens = *req.Options.MaxTokens
	}

	payload, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("mistral: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("mistral: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("mistral: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &resilience.StatusError{
			Provider:   "mistral",
			StatusCode: resp.StatusCode,
			Body:       readBody(resp.Body),
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("mistral: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		slog.Warn("mistral returned no choices; degrading to empty text")
		return "", nil
	}
	return extractContent(out.Choices[0].Message.Content), nil
}

// extractContent pulls the reply text out of a message content value that may
// be a plain string or an array of typed parts. Unrecognised shapes degrade to
// an empty string with a warning rather than failing the request.
func extractContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}

	slog.Warn("mistral returned unrecognised content shape; degrading to empty text")
	return ""
}

// readBody drains up to 8 KiB of an error response body for diagnostics.
func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil || len(b) == 0 {
		return "(no body)"
	}
	return string(b)
}
