// Package yandex provides a textgen provider backed by the YandexGPT
// foundation models API and the SpeechKit recognition API.
//
// Yandex addresses models by URI (gpt://folder/model/latest), so a folder id
// is required alongside the API key. Audio is handled in two phases: the clip
// goes to SpeechKit stt:recognize, the transcript is appended to the last user
// turn, and the ordinary text path runs.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nord-m/coursevoice/internal/resilience"
	"github.com/nord-m/coursevoice/pkg/chat"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

const (
	defaultLLMBaseURL = "https://llm.api.cloud.yandex.net"
	defaultSTTBaseURL = "https://stt.api.cloud.yandex.net"

	defaultModel       = "yandexgpt-lite"
	fallbackModel      = "yandexgpt"
	transcriptLeadIn   = "Audio transcript:"
	defaultTemperature = 0.6
	defaultMaxTokens   = 2000

	sttLanguage   = "ru-RU"
	sttSampleRate = "48000"
)

var retryable = []int{400, 404, 422}

// Compile-time assertion that Provider satisfies textgen.AudioProvider.
var _ textgen.AudioProvider = (*Provider)(nil)

// Provider implements textgen.AudioProvider using the Yandex Cloud APIs.
type Provider struct {
	apiKey     string
	folderID   string
	llmBaseURL string
	sttBaseURL string
	client     *http.Client
	policy     resilience.ModelFallback
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLLMBaseURL overrides the foundation models base URL. Primarily used in
// tests to point at a local mock server.
func WithLLMBaseURL(u string) Option {
	return func(p *Provider) { p.llmBaseURL = strings.TrimSuffix(u, "/") }
}

// WithSTTBaseURL overrides the SpeechKit base URL.
func WithSTTBaseURL(u string) Option {
	return func(p *Provider) { p.sttBaseURL = strings.TrimSuffix(u, "/") }
}

// WithModels overrides the primary and fallback model short names.
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

// New constructs a new Yandex Provider.
func New(apiKey, folderID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("yandex: apiKey must not be empty")
	}
	if folderID == "" {
		return nil, fmt.Errorf("yandex: folderID must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		folderID:   folderID,
		llmBaseURL: defaultLLMBaseURL,
		sttBaseURL: defaultSTTBaseURL,
		client:     &http.Client{Timeout: 2 * time.Minute},
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
func (p *Provider) Name() string { return "yandex" }

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error) {
	policy := p.policy
	if req.Options.ModelName != "" {
		policy.Primary = req.Options.ModelName
	}

	text, model, err := resilience.Execute(policy, func(model string) (string, error) {
		return p.complete(ctx, p.resolveModelURI(model, req.Options), req)
	})
	if err != nil {
		return nil, fmt.Errorf("yandex: completion: %w", err)
	}
	return &textgen.Result{Text: text, Model: model}, nil
}

// GenerateFromAudio implements textgen.AudioProvider via the two-phase
// recognize-then-generate pipeline. SpeechKit has no model fallback; only the
// completion phase retries.
func (p *Provider) GenerateFromAudio(ctx context.Context, req textgen.Request, audio textgen.Audio) (*textgen.Result, error) {
	transcript, err := p.recognize(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("yandex: recognition: %w", err)
	}
	slog.Debug("yandex recognition complete", "chars", len(transcript))

	textReq := req
	textReq.Turns = chat.AppendToLastUser(req.Turns, transcriptLeadIn+"\n"+transcript)

	res, err := p.Generate(ctx, textReq)
	if err != nil {
		return nil, err
	}
	res.Transcript = transcript
	return res, nil
}

// resolveModelURI picks the model URI for one completion call. An explicit
// request URI wins; otherwise the short model name is expanded against the
// configured folder.
func (p *Provider) resolveModelURI(model string, opts textgen.Options) string {
	if opts.ModelURI != "" {
		return opts.ModelURI
	}
	return fmt.Sprintf("gpt://%s/%s/latest", p.folderID, model)
}

// Wire format for the foundation models completion endpoint.

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
		} `json:"alternatives"`
	} `json:"result"`
}

// complete performs one completion call against the given model URI.
func (p *Provider) complete(ctx context.Context, modelURI string, req textgen.Request) (string, error) {
	messages := make([]message, 0, len(req.Turns))
	for _, t := range req.Turns {
		messages = append(messages, message{Role: string(t.Role), Text: t.Text})
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
		ModelURI: modelURI,
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("yandex: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.llmBaseURL+"/foundationModels/v1/completion", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("yandex: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Api-Key "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("yandex: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &resilience.StatusError{
			Provider:   "yandex",
			StatusCode: resp.StatusCode,
			Body:       readBody(resp.Body),
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("yandex: decode response: %w", err)
	}
	if len(out.Result.Alternatives) == 0 {
		slog.Warn("yandex returned no alternatives; degrading to empty text")
		return "", nil
	}
	return out.Result.Alternatives[0].Message.Text, nil
}

// recognize sends the raw clip to SpeechKit and returns the transcript.
func (p *Provider) recognize(ctx context.Context, audio textgen.Audio) (string, error) {
	format := "oggopus"
	if audio.Format != "" {
		format = audio.Format
	}

	q := url.Values{}
	q.Set("lang", sttLanguage)
	q.Set("format", format)
	q.Set("sampleRateHertz", sttSampleRate)
	endpoint := p.sttBaseURL + "/speech/v1/stt:recognize?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio.Data))
	if err != nil {
		return "", fmt.Errorf("yandex: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Authorization", "Api-Key "+p.apiKey)
	httpReq.Header.Set("x-folder-id", p.folderID)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("yandex: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &resilience.StatusError{
			Provider:   "yandex",
			StatusCode: resp.StatusCode,
			Body:       readBody(resp.Body),
		}
	}

	var out struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("yandex: decode response: %w", err)
	}
	return out.Result, nil
}

// readBody drains up to 8 KiB of an error response body for diagnostics.
func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil || len(b) == 0 {
		return "(no body)"
	}
	return string(b)
}
