// Package textgen defines the Provider interface for generative-AI text
// backends.
//
// A provider wraps one vendor's HTTP API (OpenAI, Gemini, Mistral, YandexGPT,
// or anything reachable through the any-llm bridge) and exposes a uniform
// generate call: a conversation context in, generated text out. Vendors that
// can consume audio, natively or via their own speech-to-text endpoint,
// additionally implement [AudioProvider].
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation on every outbound call.
package textgen

import (
	"context"

	"github.com/nord-m/coursevoice/pkg/chat"
)

// Options carries per-request advisory hints. Each provider honours the
// fields it understands and silently ignores the rest; the active provider
// itself is fixed per deployment and cannot be overridden by a request.
type Options struct {
	// ModelName overrides the provider's default primary model by short name.
	ModelName string

	// ModelURI overrides the full model identifier for providers addressing
	// models by URI (YandexGPT's gpt://folder/model/latest scheme).
	ModelURI string

	// Temperature controls output randomness. Nil means provider default.
	Temperature *float64

	// MaxTokens caps completion length. Nil means provider default.
	MaxTokens *int
}

// Request is the unit of work handed to a provider: the full ordered
// conversation context plus advisory options.
type Request struct {
	// Turns is the conversation context. A system-role turn, when present, is
	// passed through the vendor's dedicated system-instruction mechanism where
	// one exists, and prepended as plain text otherwise.
	Turns []chat.Turn

	Options Options
}

// Audio is a captured clip forwarded opaquely to the vendor.
type Audio struct {
	// Data is the raw encoded audio.
	Data []byte

	// Format is the container/codec tag: "webm" or "oggopus".
	Format string
}

// Result is the outcome of a successful generate call.
type Result struct {
	// Text is the generated reply. May be empty when the vendor returned an
	// unrecognisable response shape; that case is logged, never fatal.
	Text string

	// Transcript is the speech-to-text output for audio requests, when the
	// vendor produces one. Empty for text requests and for vendors that
	// ingest audio natively without a separate transcription phase.
	Transcript string

	// Model is the model that produced Text (primary or fallback).
	Model string
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Name returns the provider label echoed in responses (e.g. "openai").
	Name() string

	// Generate produces a reply for the given conversation context.
	// Vendor failures surface as errors wrapping [resilience.StatusError]
	// after the model fallback policy is exhausted.
	Generate(ctx context.Context, req Request) (*Result, error)
}

// AudioProvider is implemented by providers that accept an audio clip
// alongside the conversation context, either natively in the generate call or
// through a two-phase transcribe-then-generate pipeline.
type AudioProvider interface {
	Provider

	// GenerateFromAudio produces a reply for the context plus captured audio.
	GenerateFromAudio(ctx context.Context, req Request, audio Audio) (*Result, error)
}
