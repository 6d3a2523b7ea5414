// Package openai provides a textgen provider backed by the OpenAI API.
//
// Text generation uses the chat completions endpoint. Audio is handled in two
// phases: the clip is transcribed via the audio transcriptions endpoint, the
// transcript is appended to the last user turn, and the ordinary text path
// runs. Both phases carry their own primary/fallback model pair.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/nord-m/coursevoice/internal/resilience"
	"github.com/nord-m/coursevoice/pkg/chat"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

const (
	defaultModel       = "gpt-5-nano-2025-08-07"
	fallbackModel      = "gpt-4o-mini"
	defaultTranscribe  = "gpt-4o-mini-transcribe"
	fallbackTranscribe = "whisper-1"
	transcriptLeadIn   = "Audio transcript:"
	defaultTemperature = 1.0
)

// retryable is the status set that triggers one fallback-model retry.
var retryable = []int{400, 404, 422}

// Compile-time assertion that Provider satisfies textgen.AudioProvider.
var _ textgen.AudioProvider = (*Provider)(nil)

// Provider implements textgen.AudioProvider using the OpenAI API.
type Provider struct {
	client     oai.Client
	chat       resilience.ModelFallback
	transcribe resilience.ModelFallback
}

// config holds optional configuration for the provider.
type config struct {
	baseURL       string
	model         string
	fallbackModel string
	timeout       time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModels overrides the primary and fallback chat models.
func WithModels(primary, fallback string) Option {
	return func(c *config) {
		c.model = primary
		c.fallbackModel = fallback
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, fallbackModel: fallbackModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		chat: resilience.ModelFallback{
			Primary:   cfg.model,
			Fallback:  cfg.fallbackModel,
			Retryable: retryable,
		},
		transcribe: resilience.ModelFallback{
			Primary:   defaultTranscribe,
			Fallback:  fallbackTranscribe,
			Retryable: retryable,
		},
	}, nil
}

// Name implements textgen.Provider.
func (p *Provider) Name() string { return "openai" }

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error) {
	policy := p.chat
	if req.Options.ModelName != "" {
		policy.Primary = req.Options.ModelName
	}

	text, model, err := resilience.Execute(policy, func(model string) (string, error) {
		return p.complete(ctx, model, req)
	})
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	return &textgen.Result{Text: text, Model: model}, nil
}

// GenerateFromAudio implements textgen.AudioProvider via the two-phase
// transcribe-then-generate pipeline.
func (p *Provider) GenerateFromAudio(ctx context.Context, req textgen.Request, audio textgen.Audio) (*textgen.Result, error) {
	transcript, trModel, err := resilience.Execute(p.transcribe, func(model string) (string, error) {
		return p.transcribeClip(ctx, model, audio)
	})
	if err != nil {
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}
	slog.Debug("openai transcription complete", "model", trModel, "chars", len(transcript))

	textReq := req
	textReq.Turns = chat.AppendToLastUser(req.Turns, transcriptLeadIn+"\n"+transcript)

	res, err := p.Generate(ctx, textReq)
	if err != nil {
		return nil, err
	}
	res.Transcript = transcript
	return res, nil
}

// complete performs one chat completion call against the given model.
func (p *Provider) complete(ctx context.Context, model string, req textgen.Request) (string, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Turns))
	for _, t := range req.Turns {
		switch t.Role {
		case chat.RoleSystem:
			messages = append(messages, oai.SystemMessage(t.Text))
		case chat.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(t.Text))
		default:
			messages = append(messages, oai.UserMessage(t.Text))
		}
	}

	temperature := defaultTemperature
	if req.Options.Temperature != nil {
		temperature = *req.Options.Temperature
	}

	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: param.NewOpt(temperature),
	}
	if req.Options.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*req.Options.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("openai returned no choices; degrading to empty text")
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// transcribeClip performs one transcription call against the given model.
func (p *Provider) transcribeClip(ctx context.Context, model string, audio textgen.Audio) (string, error) {
	filename := "recording.webm"
	contentType := "audio/webm"
	if audio.Format == "oggopus" {
		filename = "recording.ogg"
		contentType = "audio/ogg"
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(model),
		File:  oai.File(bytes.NewReader(audio.Data), filename, contentType),
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	return resp.Text, nil
}

// wrapAPIError converts an openai-go API error into a resilience.StatusError
// so the fallback policy can key on the HTTP status. Non-API errors (network,
// context) pass through unchanged.
func wrapAPIError(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return &resilience.StatusError{
			Provider:   "openai",
			StatusCode: apierr.StatusCode,
			Body:       apierr.Error(),
		}
	}
	return err
}
