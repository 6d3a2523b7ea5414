package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// eventLog collects notified events for inspection.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) find(t EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == t {
			return e, true
		}
	}
	return Event{}, false
}

func (l *eventLog) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// fakeRecorder is a scripted Recorder. Stop delivers the configured clip on
// the Clips channel, after an optional delay to exercise asynchronous
// finalization.
type fakeRecorder struct {
	next  Clip
	delay time.Duration

	mu         sync.Mutex
	recording  bool
	startCalls int
	stopCalls  int
	clips      chan Clip
}

func newFakeRecorder(clip Clip) *fakeRecorder {
	return &fakeRecorder{next: clip, clips: make(chan Clip, 1)}
}

func (r *fakeRecorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return errors.New("already recording")
	}
	r.recording = true
	r.startCalls++
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return errors.New("not recording")
	}
	r.recording = false
	r.stopCalls++
	clip := r.next
	if r.delay > 0 {
		go func() {
			time.Sleep(r.delay)
			r.clips <- clip
		}()
	} else {
		r.clips <- clip
	}
	return nil
}

func (r *fakeRecorder) Clips() <-chan Clip { return r.clips }

// backend is a stub generate endpoint recording what it receives.
type backend struct {
	mu       sync.Mutex
	jsonReqs []map[string]any
	clips    [][]byte
	formats  []string
	reply    GenerateResponse
	status   int
}

func (b *backend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			r.ParseMultipartForm(1 << 20)
			file, _, err := r.FormFile("audio")
			if err == nil {
				data, _ := io.ReadAll(file)
				file.Close()
				b.clips = append(b.clips, data)
				b.formats = append(b.formats, r.FormValue("audioFormat"))
			}
		} else {
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			b.jsonReqs = append(b.jsonReqs, req)
		}

		if b.status != 0 {
			w.WriteHeader(b.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
			return
		}
		json.NewEncoder(w).Encode(b.reply)
	}
}

func newBridge(t *testing.T, be *backend, rec Recorder, opts ...Option) (*Bridge, *eventLog) {
	t.Helper()
	srv := httptest.NewServer(be.handler())
	t.Cleanup(srv.Close)

	log := &eventLog{}
	opts = append(opts, WithNotifier(log))
	return New(NewClient(srv.URL), rec, opts...), log
}

func TestSend_TextOnly(t *testing.T) {
	be := &backend{reply: GenerateResponse{
		GeneratedText: "bonjour",
		Provider:      "mock",
		SessionID:     "sess-abc",
	}}
	b, log := newBridge(t, be, nil)

	b.SetPrompt("say hi in French")
	resp, err := b.Send(t.Context())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.GeneratedText != "bonjour" {
		t.Errorf("generatedText = %q", resp.GeneratedText)
	}
	if b.SessionID() != "sess-abc" {
		t.Errorf("sessionID = %q, want adopted from response", b.SessionID())
	}
	if b.State() != StateIdle {
		t.Errorf("state = %q, want idle", b.State())
	}

	if _, ok := log.find(EventReady); !ok {
		t.Error("no ready event")
	}
	if e, ok := log.find(EventResponse); !ok || e.Text != "bonjour" {
		t.Errorf("response event = %+v, ok %v", e, ok)
	}
	if e, ok := log.find(EventSessionCreated); !ok || e.SessionID != "sess-abc" {
		t.Errorf("sessionCreated event = %+v, ok %v", e, ok)
	}
}

func TestSend_ModelSelectionForwarded(t *testing.T) {
	be := &backend{reply: GenerateResponse{GeneratedText: "ok"}}
	b, _ := newBridge(t, be, nil,
		WithModel("yandexgpt-lite"),
		WithModelURI("gpt://folder123/yandexgpt-lite/latest"),
	)

	b.SetPrompt("hello")
	if _, err := b.Send(t.Context()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	req := be.jsonReqs[0]
	if req["modelName"] != "yandexgpt-lite" {
		t.Errorf("modelName = %v", req["modelName"])
	}
	if req["modelUri"] != "gpt://folder123/yandexgpt-lite/latest" {
		t.Errorf("modelUri = %v", req["modelUri"])
	}
}

func TestSend_NothingToSend(t *testing.T) {
	b, log := newBridge(t, &backend{}, nil)

	_, err := b.Send(t.Context())
	if !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("err = %v, want ErrNothingToSend", err)
	}
	if e, ok := log.find(EventError); !ok || e.Context != "send" {
		t.Errorf("error event = %+v, ok %v", e, ok)
	}
}

func TestStopRecording_NotRecording(t *testing.T) {
	b, log := newBridge(t, &backend{}, newFakeRecorder(Clip{}))

	err := b.StopRecording(t.Context())
	if !errors.Is(err, ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
	if e, ok := log.find(EventError); !ok || e.Context != "recorder" {
		t.Errorf("error event = %+v, ok %v", e, ok)
	}
	if b.State() != StateIdle {
		t.Errorf("state = %q, want idle", b.State())
	}
}

func TestRecordStopSend(t *testing.T) {
	be := &backend{reply: GenerateResponse{
		GeneratedText: "nice question",
		Transcript:    "what is a pod",
		SessionID:     "sess-1",
	}}
	rec := newFakeRecorder(Clip{Data: []byte("opus-frames"), Format: "webm"})
	b, log := newBridge(t, be, rec)

	if err := b.StartRecording(t.Context()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if b.State() != StateRecording {
		t.Fatalf("state = %q, want recording", b.State())
	}
	if err := b.StopRecording(t.Context()); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if b.State() != StateRecorded {
		t.Fatalf("state = %q, want recorded", b.State())
	}

	if _, err := b.Send(t.Context()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(be.clips) != 1 || string(be.clips[0]) != "opus-frames" {
		t.Errorf("clips = %q, want one opus-frames payload", be.clips)
	}
	if be.formats[0] != "webm" {
		t.Errorf("audioFormat = %q", be.formats[0])
	}
	if e, ok := log.find(EventTranscript); !ok || e.Text != "what is a pod" {
		t.Errorf("transcript event = %+v, ok %v", e, ok)
	}
	if b.State() != StateIdle {
		t.Errorf("state = %q, want idle", b.State())
	}
}

func TestSend_WhileRecordingSendsExactlyOneClip(t *testing.T) {
	be := &backend{reply: GenerateResponse{GeneratedText: "ok", SessionID: "sess-1"}}
	rec := newFakeRecorder(Clip{Data: []byte("late-clip"), Format: "webm"})
	rec.delay = 20 * time.Millisecond
	b, _ := newBridge(t, be, rec)

	if err := b.StartRecording(t.Context()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	// Send before Stop: the bridge must stop the capture, wait for
	// finalization, and transmit the clip.
	if _, err := b.Send(t.Context()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(be.clips) != 1 {
		t.Fatalf("transmitted clips = %d, want exactly 1", len(be.clips))
	}
	if string(be.clips[0]) != "late-clip" {
		t.Errorf("clip = %q", be.clips[0])
	}
	if rec.stopCalls != 1 {
		t.Errorf("stop calls = %d, want 1", rec.stopCalls)
	}
	if b.State() != StateIdle {
		t.Errorf("state = %q, want idle", b.State())
	}
}

func TestStartRecording_DiscardsUnsentClip(t *testing.T) {
	be := &backend{reply: GenerateResponse{GeneratedText: "ok"}}
	rec := newFakeRecorder(Clip{Data: []byte("first"), Format: "webm"})
	b, _ := newBridge(t, be, rec)

	b.StartRecording(t.Context())
	b.StopRecording(t.Context())

	// A new capture replaces the recorded-but-unsent clip.
	rec.next = Clip{Data: []byte("second"), Format: "webm"}
	if err := b.StartRecording(t.Context()); err != nil {
		t.Fatalf("StartRecording again: %v", err)
	}
	b.StopRecording(t.Context())
	if _, err := b.Send(t.Context()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(be.clips) != 1 || string(be.clips[0]) != "second" {
		t.Errorf("clips = %q, want only the second capture", be.clips)
	}
}

func TestSend_BusyGuard(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(GenerateResponse{GeneratedText: "slow"})
	}))
	defer srv.Close()
	defer close(release)

	b := New(NewClient(srv.URL), nil)
	b.SetPrompt("hello")

	started := make(chan struct{})
	go func() {
		close(started)
		b.Send(context.Background())
	}()
	<-started

	// Wait for the first send to reach the in-flight window.
	deadline := time.Now().Add(time.Second)
	for b.State() != StateSending {
		if time.Now().After(deadline) {
			t.Fatal("first send never reached sending state")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := b.Send(t.Context()); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}

func TestSend_ServerErrorReturnsToIdle(t *testing.T) {
	be := &backend{status: http.StatusBadGateway}
	b, log := newBridge(t, be, nil)

	b.SetPrompt("hello")
	_, err := b.Send(t.Context())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want 502", err)
	}
	if b.State() != StateIdle {
		t.Errorf("state = %q, want idle after failure", b.State())
	}
	if e, ok := log.find(EventError); !ok || e.Context != "send" {
		t.Errorf("error event = %+v, ok %v", e, ok)
	}
}

func TestEndSession(t *testing.T) {
	be := &backend{reply: GenerateResponse{Message: "session ended", SessionID: "sess-9"}}
	b, log := newBridge(t, be, nil)

	id := b.NewSession()
	if !strings.HasPrefix(id, "sess-") {
		t.Fatalf("session id = %q, want sess- prefix", id)
	}

	if err := b.EndSession(t.Context()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if b.SessionID() != "" {
		t.Errorf("sessionID = %q, want cleared", b.SessionID())
	}

	req := be.jsonReqs[0]
	if req["endSession"] != true || req["sessionId"] != id {
		t.Errorf("request = %v", req)
	}
	if _, ok := log.find(EventSessionEnded); !ok {
		t.Error("no sessionEnded event")
	}
}

func TestResetContext(t *testing.T) {
	be := &backend{reply: GenerateResponse{Message: "context reset"}}
	b, log := newBridge(t, be, nil)

	id := b.NewSession()
	if err := b.ResetContext(t.Context()); err != nil {
		t.Fatalf("ResetContext: %v", err)
	}
	if b.SessionID() != id {
		t.Errorf("sessionID = %q, want kept", b.SessionID())
	}

	req := be.jsonReqs[0]
	if req["resetContext"] != true {
		t.Errorf("request = %v", req)
	}
	if _, ok := log.find(EventSessionReset); !ok {
		t.Error("no sessionReset event")
	}
}

func TestEndSession_NoActiveSession(t *testing.T) {
	b, _ := newBridge(t, &backend{}, nil)

	if err := b.EndSession(t.Context()); err == nil {
		t.Error("want error for EndSession without a session")
	}
}
