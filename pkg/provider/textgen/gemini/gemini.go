// Package gemini provides a textgen provider backed by the Google Gemini
// generateContent REST API.
//
// A system-role turn is passed as systemInstruction; the remaining history is
// flattened into a single text part. Gemini ingests audio natively, so audio
// requests attach the clip as an inline base64 data part in the same call;
// no separate transcription phase exists and no transcript is returned.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nord-m/coursevoice/internal/resilience"
	"github.com/nord-m/coursevoice/pkg/chat"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
	fallbackModel  = "gemini-2.0-flash"
)

var retryable = []int{400, 404, 422}

// Compile-time assertion that Provider satisfies textgen.AudioProvider.
var _ textgen.AudioProvider = (*Provider)(nil)

// Provider implements textgen.AudioProvider using the Gemini REST API.
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
	return func(p *Provider) { p.baseURL = url }
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

// New constructs a new Gemini Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
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
func (p *Provider) Name() string { return "gemini" }

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error) {
	return p.generate(ctx, req, nil)
}

// GenerateFromAudio implements textgen.AudioProvider. The clip rides along as
// an inline data part next to the flattened conversation text.
func (p *Provider) GenerateFromAudio(ctx context.Context, req textgen.Request, audio textgen.Audio) (*textgen.Result, error) {
	return p.generate(ctx, req, &audio)
}

func (p *Provider) generate(ctx context.Context, req textgen.Request, audio *textgen.Audio) (*textgen.Result, error) {
	policy := p.policy
	if req.Options.ModelName != "" {
		policy.Primary = req.Options.ModelName
	}

	text, model, err := resilience.Execute(policy, func(model string) (string, error) {
		return p.call(ctx, model, req, audio)
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return &textgen.Result{Text: text, Model: model}, nil
}

// Wire format for the generateContent endpoint.

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// call performs one generateContent call against the given model.
func (p *Provider) call(ctx context.Context, model string, req textgen.Request, audio *textgen.Audio) (string, error) {
	system, rest := chat.SplitSystem(req.Turns)

	parts := []part{}
	if flat := chat.Flatten(rest); flat != "" {
		parts = append(parts, part{Text: flat})
	}
	if audio != nil {
		mime := "audio/webm"
		if audio.Format == "oggopus" {
			mime = "audio/ogg"
		}
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: mime,
			Data:     base64.StdEncoding.EncodeToString(audio.Data),
		}})
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("gemini: empty request: no text and no audio")
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if system != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	if req.Options.Temperature != nil || req.Options.MaxTokens != nil {
		body.GenerationConfig = &generationConfig{
			Temperature:     req.Options.Temperature,
			MaxOutputTokens: req.Options.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("gemini: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &resilience.StatusError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			Body:       readBody(resp.Body),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	var text string
	for _, pt := range out.Candidates[0].Content.Parts {
		text += pt.Text
	}
	return text, nil
}

// readBody drains up to 8 KiB of an error response body for diagnostics.
func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil || len(b) == 0 {
		return "(no body)"
	}
	return string(b)
}
