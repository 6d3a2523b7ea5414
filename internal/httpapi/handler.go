// Package httpapi implements the HTTP surface of the coursevoice bridge.
//
// A single endpoint, POST /api/generate, accepts either a JSON body (text
// requests and session directives) or a multipart/form-data body carrying a
// recorded audio clip alongside the same form fields. The handler resolves
// the conversation session, dispatches to the configured provider, persists
// the exchange, and returns the generated reply.
//
// Status codes: malformed or unsupported client input yields 400, provider
// failures yield 502, and store or configuration faults yield 500.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nord-m/coursevoice/internal/observe"
	"github.com/nord-m/coursevoice/internal/session"
	"github.com/nord-m/coursevoice/internal/transcript"
	"github.com/nord-m/coursevoice/pkg/chat"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

// maxBodyBytes caps the request body size. Audio clips from the browser
// recorder stay well under this.
const maxBodyBytes = 16 << 20

// Request is the decoded client payload, common to JSON and multipart
// bodies.
type Request struct {
	// Prompt is the typed user prompt. May be empty for audio-only
	// requests.
	Prompt string `json:"prompt"`

	// System seeds the session's system prompt. Only the first request of
	// a session sets it; later values are ignored.
	System string `json:"system"`

	// SessionID names the conversation session. Empty means the request is
	// stateless: no history is loaded and nothing is persisted.
	SessionID string `json:"sessionId"`

	// EndSession, when true, deletes the session and acknowledges without
	// calling the provider.
	EndSession bool `json:"endSession"`

	// ResetContext, when true, clears the session's message history while
	// keeping its system prompt before any further processing.
	ResetContext bool `json:"resetContext"`

	// ModelName optionally overrides the provider's primary model.
	ModelName string `json:"modelName"`

	// ModelURI overrides the full model identifier for providers that
	// address models by URI (Yandex).
	ModelURI string `json:"modelUri"`

	// Temperature and MaxTokens are advisory generation options.
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"maxTokens"`

	audio *textgen.Audio
}

// Response is the JSON reply body.
type Response struct {
	// GeneratedText is the model's reply. Empty for directive-only
	// requests.
	GeneratedText string `json:"generatedText,omitempty"`

	// Message acknowledges session directives ("session ended",
	// "context reset").
	Message string `json:"message,omitempty"`

	// Provider is the active provider label.
	Provider string `json:"provider"`

	// SessionID is the session the exchange was recorded under.
	SessionID string `json:"sessionId,omitempty"`

	// Model is the model that produced GeneratedText.
	Model string `json:"model,omitempty"`

	// Transcript is the recognised speech for audio requests, after
	// glossary correction.
	Transcript string `json:"transcript,omitempty"`

	// Corrections lists glossary substitutions applied to Transcript.
	Corrections []transcript.Correction `json:"corrections,omitempty"`
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// Option is a functional option for Handler.
type Option func(*Handler)

// WithCorrector attaches a transcript glossary corrector. When nil (the
// default), transcripts pass through unchanged.
func WithCorrector(c *transcript.Corrector) Option {
	return func(h *Handler) { h.corrector = c }
}

// WithMetrics attaches the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithCORSOrigin sets the Access-Control-Allow-Origin value. Default "*".
func WithCORSOrigin(origin string) Option {
	return func(h *Handler) { h.corsOrigin = origin }
}

// WithMaxMessages caps the per-session sliding window. Default
// [session.DefaultMaxMessages].
func WithMaxMessages(n int) Option {
	return func(h *Handler) { h.maxMessages = n }
}

// Handler serves the bridge API. Safe for concurrent use.
type Handler struct {
	provider    textgen.Provider
	store       session.Store
	corrector   *transcript.Corrector
	metrics     *observe.Metrics
	corsOrigin  string
	maxMessages int
	now         func() time.Time
}

// New constructs a Handler for the given provider and session store.
func New(provider textgen.Provider, store session.Store, opts ...Option) *Handler {
	h := &Handler{
		provider:    provider,
		store:       store,
		corsOrigin:  "*",
		maxMessages: session.DefaultMaxMessages,
		now:         time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register adds the /api/generate route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/generate", h)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	if h.provider == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "no provider configured"})
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if req.EndSession {
		h.endSession(w, r, req)
		return
	}

	h.generate(w, r, req)
}

// endSession deletes the session and acknowledges. The provider is never
// called for this directive.
func (h *Handler) endSession(w http.ResponseWriter, r *http.Request, req *Request) {
	ctx := r.Context()

	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "endSession requires sessionId"})
		return
	}

	if err := h.store.Delete(ctx, req.SessionID); err != nil {
		observe.Logger(ctx).Error("delete session", "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to end session"})
		return
	}

	h.metrics.RecordSessionDirective(ctx, "endSession")
	h.metrics.SessionsEnded.Add(ctx, 1)

	writeJSON(w, http.StatusOK, Response{
		Message:   "session ended",
		Provider:  h.provider.Name(),
		SessionID: req.SessionID,
	})
}

// generate runs the main request path: resolve the session, apply the
// resetContext directive if present, call the provider, persist the
// exchange, and respond.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request, req *Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	if req.Prompt == "" && req.audio == nil && !req.ResetContext {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt or audio is required"})
		return
	}

	sess, sessionID := h.loadOrCreateSession(r, req)

	if req.ResetContext {
		sess.ResetContext()
		h.metrics.RecordSessionDirective(ctx, "resetContext")

		// A bare resetContext is acknowledged without a provider call.
		if req.Prompt == "" && req.audio == nil {
			if sessionID != "" {
				if err := h.store.Set(ctx, sessionID, sess); err != nil {
					log.Error("persist session", "session_id", sessionID, "error", err)
				}
			}
			writeJSON(w, http.StatusOK, Response{
				Message:   "context reset",
				Provider:  h.provider.Name(),
				SessionID: sessionID,
			})
			return
		}
	}

	// The system prompt is fixed at session creation; later requests
	// cannot rewrite it.
	if req.System != "" && sess.SystemPrompt == "" {
		sess.SystemPrompt = req.System
	}

	genReq := textgen.Request{
		Turns: chat.BuildContext(sess.SystemPrompt, sess.Messages, req.Prompt, h.now()),
		Options: textgen.Options{
			ModelName:   req.ModelName,
			ModelURI:    req.ModelURI,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	}

	res, err := h.dispatch(r, req, genReq)
	if err != nil {
		var badInput *badInputError
		if errors.As(err, &badInput) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: badInput.msg})
			return
		}
		h.metrics.RecordProviderError(ctx, h.provider.Name(), requestKind(req))
		log.Error("provider request failed", "provider", h.provider.Name(), "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "provider request failed"})
		return
	}
	h.metrics.RecordProviderRequest(ctx, h.provider.Name(), requestKind(req), "ok")

	resp := Response{
		GeneratedText: res.Text,
		Provider:      h.provider.Name(),
		SessionID:     sessionID,
		Model:         res.Model,
		Transcript:    res.Transcript,
	}
	if res.Transcript != "" && h.corrector != nil {
		resp.Transcript, resp.Corrections = h.corrector.Correct(res.Transcript)
	}

	userText := req.Prompt
	if resp.Transcript != "" {
		if userText == "" {
			userText = resp.Transcript
		} else {
			userText += "\n\nAudio transcript:\n" + resp.Transcript
		}
	}

	// Stateless requests (no sessionId) leave no trace after the reply.
	if sessionID != "" {
		now := h.now()
		sess.AppendExchange(
			chat.Turn{Role: chat.RoleUser, Text: userText, Timestamp: now},
			chat.Turn{Role: chat.RoleAssistant, Text: res.Text, Timestamp: now},
			h.maxMessages,
		)
		if err := h.store.Set(ctx, sessionID, sess); err != nil {
			// The reply is still valid; the session just loses this exchange.
			log.Error("persist session", "session_id", sessionID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// loadOrCreateSession resolves the request's session. An absent id means the
// request is stateless: the returned empty id tells the caller to skip
// persistence. A failed read degrades to a fresh session rather than failing
// the request.
func (h *Handler) loadOrCreateSession(r *http.Request, req *Request) (*session.Session, string) {
	ctx := r.Context()

	if req.SessionID == "" {
		return session.New(req.System, h.now()), ""
	}

	sess, err := h.store.Get(ctx, req.SessionID)
	switch {
	case err == nil:
		return sess, req.SessionID
	case errors.Is(err, session.ErrNotFound):
		h.metrics.SessionsStarted.Add(ctx, 1)
	default:
		observe.Logger(ctx).Error("load session; starting fresh",
			"session_id", req.SessionID, "error", err)
	}
	return session.New(req.System, h.now()), req.SessionID
}

// badInputError marks a dispatch failure caused by the client rather than
// the provider.
type badInputError struct {
	msg string
}

func (e *badInputError) Error() string { return e.msg }

// dispatch routes the request to the text or audio provider path and records
// the stage latency.
func (h *Handler) dispatch(r *http.Request, req *Request, genReq textgen.Request) (*textgen.Result, error) {
	ctx := r.Context()
	start := time.Now()

	if req.audio != nil {
		ap, ok := h.provider.(textgen.AudioProvider)
		if !ok {
			return nil, &badInputError{msg: fmt.Sprintf("provider %q does not accept audio", h.provider.Name())}
		}
		res, err := ap.GenerateFromAudio(ctx, genReq, *req.audio)
		h.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
		return res, err
	}

	res, err := h.provider.Generate(ctx, genReq)
	h.metrics.GenerateDuration.Record(ctx, time.Since(start).Seconds())
	return res, err
}

// requestKind labels the request for metrics attributes.
func requestKind(req *Request) string {
	if req.audio != nil {
		return "audio"
	}
	return "text"
}

// decodeRequest parses the request body. Exactly two encodings are
// accepted: application/json, and multipart/form-data carrying the form
// fields plus an audio file part. Anything else is rejected.
func decodeRequest(r *http.Request) (*Request, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("invalid Content-Type: %v", err)
	}

	switch mediaType {
	case "multipart/form-data":
		return decodeMultipart(r)
	case "application/json":
		return decodeJSON(r.Body)
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

// decodeJSON parses a JSON request body.
func decodeJSON(body io.Reader) (*Request, error) {
	req := &Request{}
	dec := json.NewDecoder(body)
	if err := dec.Decode(req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %v", err)
	}
	return req, nil
}

// decodeMultipart parses a multipart form: the scalar fields mirror the JSON
// schema, and an optional "audio" file part carries the recorded clip.
func decodeMultipart(r *http.Request) (*Request, error) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %v", err)
	}

	req := &Request{
		Prompt:       r.FormValue("prompt"),
		System:       r.FormValue("system"),
		SessionID:    r.FormValue("sessionId"),
		ModelName:    r.FormValue("modelName"),
		ModelURI:     r.FormValue("modelUri"),
		EndSession:   r.FormValue("endSession") == "true",
		ResetContext: r.FormValue("resetContext") == "true",
	}

	if v := r.FormValue("temperature"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q", v)
		}
		req.Temperature = &t
	}
	if v := r.FormValue("maxTokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid maxTokens %q", v)
		}
		req.MaxTokens = &n
	}

	file, header, err := r.FormFile("audio")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, nil
	case err != nil:
		return nil, fmt.Errorf("invalid audio part: %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read audio part: %v", err)
	}
	if len(data) == 0 {
		return nil, errors.New("audio part is empty")
	}

	format := r.FormValue("audioFormat")
	if format == "" {
		format = audioFormat(header)
	}
	req.audio = &textgen.Audio{Data: data, Format: format}
	return req, nil
}

// audioFormat maps the uploaded part's content type and filename onto the
// provider audio format tag. Unrecognised uploads default to webm, the
// browser recorder's native container.
func audioFormat(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if strings.Contains(ct, "ogg") || strings.HasSuffix(header.Filename, ".ogg") {
		return "oggopus"
	}
	return "webm"
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
