package mistral

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nord-m/coursevoice/pkg/chat"
	"github.com/nord-m/coursevoice/pkg/provider/textgen"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func stringReply(text string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, text)
}

func TestGenerate_SendsRolesAndDefaults(t *testing.T) {
	var got completionRequest
	var auth string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, stringReply("salut"))
	})

	res, err := p.Generate(t.Context(), textgen.Request{
		Turns: []chat.Turn{
			{Role: chat.RoleSystem, Text: "You are a tutor."},
			{Role: chat.RoleUser, Text: "hi"},
			{Role: chat.RoleAssistant, Text: "hello"},
			{Role: chat.RoleUser, Text: "say hi in French"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "salut" || res.Model != defaultModel {
		t.Errorf("got %q from %q, want salut from %s", res.Text, res.Model, defaultModel)
	}
	if auth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer key", auth)
	}
	if got.Model != defaultModel {
		t.Errorf("model = %q, want %q", got.Model, defaultModel)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[3].Content != "say hi in French" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Temperature != defaultTemperature || got.MaxTokens != defaultMaxTokens {
		t.Errorf("temperature/max_tokens = %v/%v, want defaults", got.Temperature, got.MaxTokens)
	}
}

func TestGenerate_RateLimitFallsBack(t *testing.T) {
	var models []string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		if req.Model == defaultModel {
			http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, stringReply("fallback text"))
	})

	res, err := p.Generate(t.Context(), textgen.Request{
		Turns: []chat.Turn{{Role: chat.RoleUser, Text: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(models) != 2 || models[1] != fallbackModel {
		t.Fatalf("models tried = %v, want primary then %s", models, fallbackModel)
	}
	if res.Text != "fallback text" || res.Model != fallbackModel {
		t.Errorf("got %q from %q, want fallback result", res.Text, res.Model)
	}
}

func TestGenerate_UnauthorizedDoesNotRetry(t *testing.T) {
	calls := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"message":"bad key"}`, http.StatusUnauthorized)
	})

	_, err := p.Generate(t.Context(), textgen.Request{
		Turns: []chat.Turn{{Role: chat.RoleUser, Text: "hi"}},
	})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (401 is not retryable)", calls)
	}
}

func TestExtractContent_Shapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain string", `"hello"`, "hello"},
		{"typed parts", `[{"type":"text","text":"hel"},{"type":"text","text":"lo"}]`, "hello"},
		{"skips non-text parts", `[{"type":"image_url","text":"x"},{"type":"text","text":"ok"}]`, "ok"},
		{"unrecognised shape", `{"weird":true}`, ""},
		{"empty", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractContent(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("extractContent(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestGenerate_NoChoicesDegradesToEmptyText(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	res, err := p.Generate(t.Context(), textgen.Request{
		Turns: []chat.Turn{{Role: chat.RoleUser, Text: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New with empty key should fail")
	}
}
