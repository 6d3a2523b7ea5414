package yandex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nord-m/coursevoice/pkg/chat"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

func completionReply(text string) string {
	return fmt.Sprintf(`{"result":{"alternatives":[{"message":{"role":"assistant","text":%q}}]}}`, text)
}

func newTestProvider(t *testing.T, llm, stt http.HandlerFunc) *Provider {
	t.Helper()
	opts := []Option{}
	if llm != nil {
		srv := httptest.NewServer(llm)
		t.Cleanup(srv.Close)
		opts = append(opts, WithLLMBaseURL(srv.URL))
	}
	if stt != nil {
		srv := httptest.NewServer(stt)
		t.Cleanup(srv.Close)
		opts = append(opts, WithSTTBaseURL(srv.URL))
	}
	p, err := New("test-key", "folder-123", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestGenerate_BuildsModelURIAndOptions(t *testing.T) {
	var got completionRequest
	var auth string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/foundationModels/v1/completion" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, completionReply("привет"))
	}, nil)

	res, err := p.Generate(t.Context(), textgen.Request{
		Turns: []chat.Turn{
			{Role: chat.RoleSystem, Text: "You are a tutor."},
			{Role: chat.RoleUser, Text: "say hi"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "привет" || res.Model != defaultModel {
		t.Errorf("got %q from %q", res.Text, res.Model)
	}
	if auth != "Api-Key test-key" {
		t.Errorf("Authorization = %q, want Api-Key auth", auth)
	}
	if want := "gpt://folder-123/" + defaultModel + "/latest"; got.ModelURI != want {
		t.Errorf("modelUri = %q, want %q", got.ModelURI, want)
	}
	if got.CompletionOptions.Stream {
		t.Error("stream should be false")
	}
	if got.CompletionOptions.Temperature != defaultTemperature || got.CompletionOptions.MaxTokens != defaultMaxTokens {
		t.Errorf("completionOptions = %+v, want defaults", got.CompletionOptions)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Text != "say hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestGenerate_ExplicitModelURIWins(t *testing.T) {
	var got completionRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, completionReply("ok"))
	}, nil)

	_, err := p.Generate(t.Context(), textgen.Request{
		Turns:   []chat.Turn{{Role: chat.RoleUser, Text: "hi"}},
		Options: textgen.Options{ModelURI: "gpt://other-folder/custom/rc"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.ModelURI != "gpt://other-folder/custom/rc" {
		t.Errorf("modelUri = %q, want explicit URI", got.ModelURI)
	}
}

func TestGenerate_RetryableStatusFallsBack(t *testing.T) {
	var uris []string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		json.NewDecoder(r.Body).Decode(&req)
		uris = append(uris, req.ModelURI)
		if strings.Contains(req.ModelURI, defaultModel) {
			http.Error(w, `{"error":"bad model"}`, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, completionReply("fallback text"))
	}, nil)

	res, err := p.Generate(t.Context(), textgen.Request{
		Turns: []chat.Turn{{Role: chat.RoleUser, Text: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(uris) != 2 || !strings.Contains(uris[1], fallbackModel) {
		t.Fatalf("uris tried = %v, want primary then fallback", uris)
	}
	if res.Text != "fallback text" || res.Model != fallbackModel {
		t.Errorf("got %q from %q, want fallback result", res.Text, res.Model)
	}
}

func TestGenerateFromAudio_RecognizesThenGenerates(t *testing.T) {
	clip := []byte{0x4f, 0x67, 0x67, 0x53}

	var llmReq completionRequest
	llm := func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&llmReq)
		fmt.Fprint(w, completionReply("heard you"))
	}

	var sttBody []byte
	var sttQuery map[string]string
	var folderHeader string
	stt := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech/v1/stt:recognize" {
			t.Errorf("stt path = %q", r.URL.Path)
		}
		folderHeader = r.Header.Get("x-folder-id")
		sttQuery = map[string]string{
			"lang":            r.URL.Query().Get("lang"),
			"format":          r.URL.Query().Get("format"),
			"sampleRateHertz": r.URL.Query().Get("sampleRateHertz"),
		}
		sttBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"result":"не совсем понял"}`)
	}

	p := newTestProvider(t, llm, stt)
	res, err := p.GenerateFromAudio(t.Context(),
		textgen.Request{Turns: []chat.Turn{{Role: chat.RoleUser, Text: "what did I say?"}}},
		textgen.Audio{Data: clip, Format: "oggopus"},
	)
	if err != nil {
		t.Fatalf("GenerateFromAudio: %v", err)
	}
	if res.Text != "heard you" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Transcript != "не совсем понял" {
		t.Errorf("Transcript = %q", res.Transcript)
	}

	if !bytes.Equal(sttBody, clip) {
		t.Error("clip not forwarded verbatim to SpeechKit")
	}
	if folderHeader != "folder-123" {
		t.Errorf("x-folder-id = %q", folderHeader)
	}
	if sttQuery["lang"] != sttLanguage || sttQuery["format"] != "oggopus" || sttQuery["sampleRateHertz"] != sttSampleRate {
		t.Errorf("stt query = %v", sttQuery)
	}

	// Transcript must reach the completion phase appended to the user turn.
	last := llmReq.Messages[len(llmReq.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Text, "не совсем понял") {
		t.Errorf("last message = %+v, want user turn carrying the transcript", last)
	}
}

func TestGenerateFromAudio_RecognitionFailureIsFatal(t *testing.T) {
	llmCalled := false
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		llmCalled = true
	}, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	})

	_, err := p.GenerateFromAudio(t.Context(),
		textgen.Request{Turns: []chat.Turn{{Role: chat.RoleUser, Text: "hi"}}},
		textgen.Audio{Data: []byte{1}, Format: "oggopus"},
	)
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if llmCalled {
		t.Error("completion phase ran despite recognition failure")
	}
}

func TestNew_RequiresKeyAndFolder(t *testing.T) {
	if _, err := New("", "folder"); err == nil {
		t.Error("New with empty key should fail")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("New with empty folder should fail")
	}
}
