// Package bridge is the client-side module embedded in the e-learning
// player. It owns the recording state machine, relays host player variables
// into its own state, and talks to the generate endpoint over HTTP.
//
// The state machine: idle → recording → recorded → sending → idle, with a
// text-only path straight from idle to sending. Every transition and error
// is mirrored to the hosting page through a [Notifier].
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State is the bridge's recording state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateRecorded  State = "recorded"
	StateSending   State = "sending"
)

var (
	// ErrBusy is returned when a send is already in flight.
	ErrBusy = errors.New("bridge: send already in flight")

	// ErrNotRecording is returned by Stop when no capture is active.
	ErrNotRecording = errors.New("bridge: recorder is not active")

	// ErrNothingToSend is returned by Send when there is neither a prompt
	// nor a captured clip.
	ErrNothingToSend = errors.New("bridge: nothing to send")
)

// Option is a functional option for Bridge.
type Option func(*Bridge)

// WithNotifier sets the event sink. Defaults to [NopNotifier].
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) { b.notifier = n }
}

// WithSystemPrompt seeds the system prompt sent with the first turn.
func WithSystemPrompt(s string) Option {
	return func(b *Bridge) { b.system = s }
}

// WithModel overrides the server's default model.
func WithModel(m string) Option {
	return func(b *Bridge) { b.model = m }
}

// WithModelURI pins a fully qualified model URI for providers addressed that
// way, such as gpt://<folder>/<model>/latest.
func WithModelURI(u string) Option {
	return func(b *Bridge) { b.modelURI = u }
}

// Bridge holds all client-side conversational state: one instance per page
// load. Safe for concurrent use, though the expected call pattern is a
// single UI flow.
type Bridge struct {
	client   *Client
	recorder Recorder
	notifier Notifier

	mu        sync.Mutex
	state     State
	prompt    string
	system    string
	model     string
	modelURI  string
	sessionID string
	clip      *Clip
	inFlight  bool
}

// New constructs a Bridge and announces readiness to the notifier. The
// recorder may be nil for text-only deployments.
func New(client *Client, recorder Recorder, opts ...Option) *Bridge {
	b := &Bridge{
		client:   client,
		recorder: recorder,
		notifier: NopNotifier{},
		state:    StateIdle,
	}
	for _, o := range opts {
		o(b)
	}
	b.notifier.Notify(Event{Type: EventReady})
	return b
}

// State returns the current recording state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SessionID returns the active session identifier, empty when none.
func (b *Bridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// SetPrompt replaces the pending user prompt.
func (b *Bridge) SetPrompt(s string) {
	b.mu.Lock()
	b.prompt = s
	b.mu.Unlock()
}

// SetSystemPrompt replaces the system prompt for subsequent turns.
func (b *Bridge) SetSystemPrompt(s string) {
	b.mu.Lock()
	b.system = s
	b.mu.Unlock()
}

// StartRecording begins a new capture. Any previously recorded but unsent
// clip is discarded.
func (b *Bridge) StartRecording(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight || b.state == StateSending {
		return ErrBusy
	}
	if b.state == StateRecording {
		return errors.New("bridge: already recording")
	}
	if b.recorder == nil {
		err := errors.New("bridge: no recorder configured")
		b.notifyError("recorder", err)
		return err
	}

	b.clip = nil
	if err := b.recorder.Start(ctx); err != nil {
		b.notifyError("recorder", err)
		return fmt.Errorf("bridge: start recording: %w", err)
	}
	b.setStateLocked(StateRecording)
	return nil
}

// StopRecording ends the active capture and waits for the recorder to
// deliver the finalized clip. Stopping while not recording is an error,
// reported through the notifier as well.
func (b *Bridge) StopRecording(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateRecording {
		b.notifyError("recorder", ErrNotRecording)
		return ErrNotRecording
	}
	return b.stopAndWaitLocked(ctx)
}

// stopAndWaitLocked stops the recorder and blocks until the finalized clip
// arrives. The two asynchronous steps (finalization, then whatever follows)
// are sequenced here so the clip exists before any send proceeds.
func (b *Bridge) stopAndWaitLocked(ctx context.Context) error {
	if err := b.recorder.Stop(); err != nil {
		b.setStateLocked(StateIdle)
		b.notifyError("recorder", err)
		return fmt.Errorf("bridge: stop recording: %w", err)
	}

	select {
	case clip := <-b.recorder.Clips():
		b.clip = &clip
		b.setStateLocked(StateRecorded)
		return nil
	case <-ctx.Done():
		b.setStateLocked(StateIdle)
		b.notifyError("recorder", ctx.Err())
		return fmt.Errorf("bridge: wait for clip: %w", ctx.Err())
	}
}

// Send transmits the pending turn: the captured clip when one exists,
// otherwise the text prompt. Calling Send while recording performs an
// implicit stop-and-wait first, so exactly one finalized clip is sent.
// A second Send while one is in flight returns [ErrBusy].
func (b *Bridge) Send(ctx context.Context) (*GenerateResponse, error) {
	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	if b.state == StateRecording {
		if err := b.stopAndWaitLocked(ctx); err != nil {
			b.mu.Unlock()
			return nil, err
		}
	}

	clip := b.clip
	req := GenerateRequest{
		Prompt:    b.prompt,
		System:    b.system,
		SessionID: b.sessionID,
		ModelName: b.model,
		ModelURI:  b.modelURI,
	}
	if clip == nil && req.Prompt == "" {
		b.mu.Unlock()
		b.notifyError("send", ErrNothingToSend)
		return nil, ErrNothingToSend
	}

	hadSession := b.sessionID != ""
	b.inFlight = true
	b.setStateLocked(StateSending)
	b.mu.Unlock()

	var resp *GenerateResponse
	var err error
	if clip != nil {
		resp, err = b.client.GenerateAudio(ctx, req, *clip)
	} else {
		resp, err = b.client.Generate(ctx, req)
	}

	b.mu.Lock()
	b.inFlight = false
	b.clip = nil
	b.setStateLocked(StateIdle)
	var created bool
	if err == nil && resp.SessionID != "" && resp.SessionID != b.sessionID {
		b.sessionID = resp.SessionID
		created = !hadSession
	}
	b.mu.Unlock()

	if err != nil {
		b.notifyError("send", err)
		return nil, err
	}

	if created {
		b.notifier.Notify(Event{Type: EventSessionCreated, SessionID: resp.SessionID})
	}
	if resp.Transcript != "" {
		b.notifier.Notify(Event{Type: EventTranscript, Text: resp.Transcript, SessionID: resp.SessionID})
	}
	b.notifier.Notify(Event{Type: EventResponse, Text: resp.GeneratedText, SessionID: resp.SessionID})
	return resp, nil
}

// NewSession mints a fresh session identifier and makes it active.
func (b *Bridge) NewSession() string {
	b.mu.Lock()
	b.sessionID = "sess-" + uuid.NewString()
	id := b.sessionID
	b.mu.Unlock()

	b.notifier.Notify(Event{Type: EventSessionCreated, SessionID: id})
	return id
}

// EndSession asks the server to delete the active session and clears the
// local identifier.
func (b *Bridge) EndSession(ctx context.Context) error {
	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return ErrBusy
	}
	id := b.sessionID
	b.mu.Unlock()

	if id == "" {
		return errors.New("bridge: no active session")
	}

	if _, err := b.client.Generate(ctx, GenerateRequest{SessionID: id, EndSession: true}); err != nil {
		b.notifyError("session", err)
		return err
	}

	b.mu.Lock()
	b.sessionID = ""
	b.mu.Unlock()

	b.notifier.Notify(Event{Type: EventSessionEnded, SessionID: id})
	return nil
}

// ResetContext asks the server to clear the session's history while keeping
// the session (and its system prompt) alive.
func (b *Bridge) ResetContext(ctx context.Context) error {
	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return ErrBusy
	}
	id := b.sessionID
	b.mu.Unlock()

	if id == "" {
		return errors.New("bridge: no active session")
	}

	if _, err := b.client.Generate(ctx, GenerateRequest{SessionID: id, ResetContext: true}); err != nil {
		b.notifyError("session", err)
		return err
	}

	b.notifier.Notify(Event{Type: EventSessionReset, SessionID: id})
	return nil
}

// setStateLocked transitions the state machine and mirrors the transition
// to the notifier. Callers hold b.mu.
func (b *Bridge) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.notifier.Notify(Event{Type: EventRecordingState, State: s})
}

func (b *Bridge) notifyError(context string, err error) {
	b.notifier.Notify(Event{Type: EventError, Context: context, Error: err.Error()})
}
