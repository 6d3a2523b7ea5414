// Package chat defines the conversation types shared by the request router,
// the session store, and the provider adapters.
//
// A conversation context is an ordered list of [Turn] values: an optional
// system turn first, followed by prior user/assistant exchanges, followed by
// the new user turn. The context is ephemeral — it is rebuilt per request from
// the stored session plus the incoming payload and is never persisted as such.
package chat

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one message in a conversation: a role plus text content.
// Timestamp is informational and may be zero for turns that were never stored.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// BuildContext assembles the ordered conversation context handed to a provider
// adapter: system prompt (when non-empty), prior history, then the new user turn.
func BuildContext(systemPrompt string, history []Turn, userText string, now time.Time) []Turn {
	turns := make([]Turn, 0, len(history)+2)
	if systemPrompt != "" {
		turns = append(turns, Turn{Role: RoleSystem, Text: systemPrompt})
	}
	turns = append(turns, history...)
	turns = append(turns, Turn{Role: RoleUser, Text: userText, Timestamp: now})
	return turns
}

// SplitSystem separates the system turn (if any) from the remaining turns.
// Providers with a dedicated system-instruction mechanism pass the first return
// value there; providers without one prepend it as plain text. Only the first
// system turn is extracted; any later ones are dropped from rest as malformed.
func SplitSystem(turns []Turn) (system string, rest []Turn) {
	rest = make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleSystem {
			if system == "" {
				system = t.Text
			}
			continue
		}
		rest = append(rest, t)
	}
	return system, rest
}

// Flatten renders non-system turns as a single "User: …\n\nAssistant: …" text
// block. Used by providers whose generate call takes one text part rather than
// a structured message list.
func Flatten(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Role == RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch t.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

// AppendToLastUser appends extra text (typically an audio transcript) to the
// last user turn, or adds a standalone user turn when the context does not end
// with one. The input slice is not modified.
func AppendToLastUser(turns []Turn, extra string) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	if n := len(out); n > 0 && out[n-1].Role == RoleUser {
		if out[n-1].Text != "" {
			out[n-1].Text += "\n\n" + extra
		} else {
			out[n-1].Text = extra
		}
		return out
	}
	return append(out, Turn{Role: RoleUser, Text: extra})
}
