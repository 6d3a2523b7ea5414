package bridge

import (
	"context"
	"sync"
)

// Variables the hosting course player publishes for the bridge. All share
// the SR_ prefix to keep them out of the player's own namespace.
const (
	VarPrompt   = "SR_prompt"
	VarSystem   = "SR_system"
	VarModel    = "SR_model"
	VarAutosend = "SR_autosend"
)

// VarSource looks up a host player variable by name. The second return
// value reports whether the variable is defined at all.
type VarSource interface {
	Lookup(name string) (string, bool)
}

// VarSourceFunc adapts a function to the VarSource interface.
type VarSourceFunc func(name string) (string, bool)

// Lookup implements VarSource.
func (f VarSourceFunc) Lookup(name string) (string, bool) { return f(name) }

// VarMirror wraps a VarSource with a presence cache: a name the source
// reported as undefined is remembered and never queried again until
// [VarMirror.Invalidate] is called. Lookups against the host player cross a
// slow scripting boundary, and most deployments define only a subset of the
// variables.
type VarMirror struct {
	src VarSource

	mu      sync.Mutex
	missing map[string]struct{}
}

// NewVarMirror wraps src with a presence cache.
func NewVarMirror(src VarSource) *VarMirror {
	return &VarMirror{src: src, missing: make(map[string]struct{})}
}

// Lookup returns the variable's value, consulting the source only for names
// not already known to be missing.
func (m *VarMirror) Lookup(name string) (string, bool) {
	m.mu.Lock()
	if _, gone := m.missing[name]; gone {
		m.mu.Unlock()
		return "", false
	}
	m.mu.Unlock()

	v, ok := m.src.Lookup(name)
	if !ok {
		m.mu.Lock()
		m.missing[name] = struct{}{}
		m.mu.Unlock()
	}
	return v, ok
}

// Invalidate clears the presence cache. Call after the host reconfigures
// its variables.
func (m *VarMirror) Invalidate() {
	m.mu.Lock()
	m.missing = make(map[string]struct{})
	m.mu.Unlock()
}

// Sync pulls the host player variables into the bridge state. When the
// prompt changed and the host set SR_autosend to "true", the new prompt is
// sent immediately and Sync returns the send's error.
func (b *Bridge) Sync(ctx context.Context, vars *VarMirror) error {
	var promptChanged bool

	b.mu.Lock()
	if v, ok := vars.Lookup(VarPrompt); ok && v != b.prompt {
		b.prompt = v
		promptChanged = true
	}
	if v, ok := vars.Lookup(VarSystem); ok {
		b.system = v
	}
	if v, ok := vars.Lookup(VarModel); ok {
		b.model = v
	}
	b.mu.Unlock()

	if !promptChanged {
		return nil
	}
	if v, ok := vars.Lookup(VarAutosend); !ok || v != "true" {
		return nil
	}

	_, err := b.Send(ctx)
	return err
}
