// Package mock provides a scripted textgen.Provider double for tests.
package mock

import (
	"context"
	"sync"

	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

// Compile-time assertion that Provider satisfies textgen.AudioProvider.
var _ textgen.AudioProvider = (*Provider)(nil)

// Provider is a configurable test double. Set the exported fields to script
// behaviour; recorded calls can be inspected after the fact. Safe for
// concurrent use.
type Provider struct {
	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// GenerateResult and GenerateErr script Generate. When GenerateFunc is
	// non-nil it takes precedence.
	GenerateResult *textgen.Result
	GenerateErr    error
	GenerateFunc   func(ctx context.Context, req textgen.Request) (*textgen.Result, error)

	// AudioResult and AudioErr script GenerateFromAudio. When AudioFunc is
	// non-nil it takes precedence.
	AudioResult *textgen.Result
	AudioErr    error
	AudioFunc   func(ctx context.Context, req textgen.Request, audio textgen.Audio) (*textgen.Result, error)

	mu sync.Mutex

	// GenerateCalls records every Generate request received.
	GenerateCalls []textgen.Request

	// AudioCalls records every GenerateFromAudio invocation received.
	AudioCalls []AudioCall
}

// AudioCall captures one GenerateFromAudio invocation.
type AudioCall struct {
	Request textgen.Request
	Audio   textgen.Audio
}

// Name implements textgen.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Generate implements textgen.Provider.
func (p *Provider) Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, req)
	p.mu.Unlock()

	if p.GenerateFunc != nil {
		return p.GenerateFunc(ctx, req)
	}
	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	if p.GenerateResult != nil {
		return p.GenerateResult, nil
	}
	return &textgen.Result{Text: "mock reply", Model: "mock-model"}, nil
}

// GenerateFromAudio implements textgen.AudioProvider.
func (p *Provider) GenerateFromAudio(ctx context.Context, req textgen.Request, audio textgen.Audio) (*textgen.Result, error) {
	p.mu.Lock()
	p.AudioCalls = append(p.AudioCalls, AudioCall{Request: req, Audio: audio})
	p.mu.Unlock()

	if p.AudioFunc != nil {
		return p.AudioFunc(ctx, req, audio)
	}
	if p.AudioErr != nil {
		return nil, p.AudioErr
	}
	if p.AudioResult != nil {
		return p.AudioResult, nil
	}
	return &textgen.Result{Text: "mock reply", Transcript: "mock transcript", Model: "mock-model"}, nil
}
