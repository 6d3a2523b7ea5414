package chat

import (
	"testing"
	"time"
)

func TestBuildContext_Order(t *testing.T) {
	history := []Turn{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	turns := BuildContext("be brief", history, "how are you?", now)

	if len(turns) != 4 {
		t.Fatalf("len = %d, want 4", len(turns))
	}
	if turns[0].Role != RoleSystem || turns[0].Text != "be brief" {
		t.Errorf("turns[0] = %+v, want system turn", turns[0])
	}
	if turns[3].Role != RoleUser || turns[3].Text != "how are you?" {
		t.Errorf("turns[3] = %+v, want new user turn", turns[3])
	}
	if !turns[3].Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", turns[3].Timestamp, now)
	}
}

func TestBuildContext_NoSystem(t *testing.T) {
	turns := BuildContext("", nil, "ping", time.Now())
	if len(turns) != 1 {
		t.Fatalf("len = %d, want 1", len(turns))
	}
	if turns[0].Role != RoleUser {
		t.Errorf("role = %q, want user", turns[0].Role)
	}
}

func TestSplitSystem(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Text: "sys"},
		{Role: RoleUser, Text: "a"},
		{Role: RoleAssistant, Text: "b"},
	}

	system, rest := SplitSystem(turns)
	if system != "sys" {
		t.Errorf("system = %q, want %q", system, "sys")
	}
	if len(rest) != 2 {
		t.Fatalf("rest len = %d, want 2", len(rest))
	}
	for _, r := range rest {
		if r.Role == RoleSystem {
			t.Errorf("system turn leaked into rest: %+v", r)
		}
	}
}

func TestSplitSystem_KeepsFirstOnly(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Text: "first"},
		{Role: RoleSystem, Text: "second"},
		{Role: RoleUser, Text: "a"},
	}
	system, rest := SplitSystem(turns)
	if system != "first" {
		t.Errorf("system = %q, want %q", system, "first")
	}
	if len(rest) != 1 {
		t.Errorf("rest len = %d, want 1", len(rest))
	}
}

func TestFlatten(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Text: "sys"},
		{Role: RoleUser, Text: "question"},
		{Role: RoleAssistant, Text: "answer"},
	}
	got := Flatten(turns)
	want := "User: question\n\nAssistant: answer"
	if got != want {
		t.Errorf("Flatten = %q, want %q", got, want)
	}
}

func TestAppendToLastUser_AppendsToUserTurn(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: "listen to this"},
	}
	out := AppendToLastUser(turns, "Audio transcript:\nhello")
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	want := "listen to this\n\nAudio transcript:\nhello"
	if out[0].Text != want {
		t.Errorf("text = %q, want %q", out[0].Text, want)
	}
	// Original must be untouched.
	if turns[0].Text != "listen to this" {
		t.Errorf("input slice modified: %q", turns[0].Text)
	}
}

func TestAppendToLastUser_StandaloneTurn(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: "q"},
		{Role: RoleAssistant, Text: "a"},
	}
	out := AppendToLastUser(turns, "transcript")
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	last := out[2]
	if last.Role != RoleUser || last.Text != "transcript" {
		t.Errorf("last = %+v, want standalone user turn", last)
	}
}

func TestAppendToLastUser_EmptyUserText(t *testing.T) {
	turns := []Turn{{Role: RoleUser, Text: ""}}
	out := AppendToLastUser(turns, "transcript")
	if out[0].Text != "transcript" {
		t.Errorf("text = %q, want %q", out[0].Text, "transcript")
	}
}
