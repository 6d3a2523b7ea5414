// Package anyllm provides a universal textgen provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// It is the catch-all backend for vendors without a dedicated adapter. The
// bridge speaks each vendor's native completion API but exposes no uniform
// error statuses, so no model fallback policy applies here; a failure
// surfaces directly.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "llama3.2")
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/nord-m/coursevoice/pkg/chat"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

// Compile-time assertion that Provider satisfies textgen.Provider.
var _ textgen.Provider = (*Provider)(nil)

// Provider implements textgen.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	vendor  string
	model   string
}

// New creates a new Provider backed by the given vendor name.
//
// vendor is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY,
// and so on).
func New(vendor string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" {
		return nil, fmt.Errorf("anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}

	return &Provider{backend: backend, vendor: strings.ToLower(vendor), model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given vendor name.
func createBackend(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(vendor) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vendor %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", vendor)
	}
}

// Name implements textgen.Provider. The label carries the wrapped vendor so
// responses report "anyllm/ollama" rather than an opaque "anyllm".
func (p *Provider) Name() string { return "anyllm/" + p.vendor }

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error) {
	model := p.model
	if req.Options.ModelName != "" {
		model = req.Options.ModelName
	}

	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: buildMessages(req.Turns),
	}
	if req.Options.Temperature != nil {
		t := *req.Options.Temperature
		params.Temperature = &t
	}
	if req.Options.MaxTokens != nil {
		mt := *req.Options.MaxTokens
		params.MaxTokens = &mt
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	return &textgen.Result{
		Text:  resp.Choices[0].Message.ContentString(),
		Model: model,
	}, nil
}

// buildMessages converts conversation turns into anyllm messages.
func buildMessages(turns []chat.Turn) []anyllmlib.Message {
	messages := make([]anyllmlib.Message, 0, len(turns))
	for _, t := range turns {
		msg := anyllmlib.Message{Content: t.Text}
		switch t.Role {
		case chat.RoleSystem:
			msg.Role = anyllmlib.RoleSystem
		case chat.RoleAssistant:
			msg.Role = anyllmlib.RoleAssistant
		default:
			msg.Role = anyllmlib.RoleUser
		}
		messages = append(messages, msg)
	}
	return messages
}
