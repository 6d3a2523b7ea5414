package anyllm

import (
	"testing"

	"github.com/nord-m/coursevoice/pkg/chat"
)

// TestBuildMessages_Roles checks that conversation roles map onto the
// any-llm role constants.
func TestBuildMessages_Roles(t *testing.T) {
	turns := []chat.Turn{
		{Role: chat.RoleSystem, Text: "You are helpful."},
		{Role: chat.RoleUser, Text: "Hello!"},
		{Role: chat.RoleAssistant, Text: "Hi there!"},
	}
	got := buildMessages(turns)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Role != "system" || got[0].ContentString() != "You are helpful." {
		t.Errorf("unexpected system message: %+v", got[0])
	}
	if got[1].Role != "user" || got[1].ContentString() != "Hello!" {
		t.Errorf("unexpected user message: %+v", got[1])
	}
	if got[2].Role != "assistant" || got[2].ContentString() != "Hi there!" {
		t.Errorf("unexpected assistant message: %+v", got[2])
	}
}

// TestBuildMessages_UnknownRoleDefaultsToUser checks that unrecognised roles
// map to user.
func TestBuildMessages_UnknownRoleDefaultsToUser(t *testing.T) {
	got := buildMessages([]chat.Turn{{Role: chat.Role("tool"), Text: "sunny"}})
	if got[0].Role != "user" {
		t.Errorf("expected role user, got %q", got[0].Role)
	}
}

// TestNew_Validation checks constructor argument validation.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty vendor")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("carrier-pigeon", "v1"); err == nil {
		t.Error("expected error for unsupported vendor")
	}
}

// TestName_CarriesVendor checks the provider label format.
func TestName_CarriesVendor(t *testing.T) {
	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "anyllm/ollama" {
		t.Errorf("Name() = %q, want anyllm/ollama", p.Name())
	}
}
