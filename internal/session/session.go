// Package session holds the server-side conversational state keyed by an
// opaque, client-supplied session identifier.
//
// A session lives in a key-value [Store] with TTL-based expiry. History is
// bounded by a sliding window: only the most recent [DefaultMaxMessages] turns
// are retained, oldest dropped first. Stores provide no locking or
// transactional guarantee — the calling protocol is strictly request/response
// per user turn, so concurrent writers for the same identifier race with
// last-writer-wins semantics.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/nord-m/coursevoice/pkg/chat"
)

// DefaultMaxMessages is the sliding-window cap on retained turns per session.
const DefaultMaxMessages = 20

// DefaultTTL is the idle expiry applied by stores when none is configured.
// Measured from the last write.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned by [Store.Get] when no live session exists for the
// given identifier (never stored, deleted, or expired).
var ErrNotFound = errors.New("session: not found")

// Session is the persisted state of one conversation.
type Session struct {
	// SystemPrompt is set once at creation from the first request's system
	// field and survives context resets.
	SystemPrompt string `json:"systemPrompt"`

	// Messages is the ordered history of user/assistant turns, capped by the
	// sliding window.
	Messages []chat.Turn `json:"messages"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// New creates a fresh session with the given system prompt.
func New(systemPrompt string, now time.Time) *Session {
	return &Session{
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// AppendExchange appends the user turn and the assistant reply produced for it,
// then trims the history to the most recent maxMessages entries. A
// maxMessages value of 0 or less applies [DefaultMaxMessages].
func (s *Session) AppendExchange(user, assistant chat.Turn, maxMessages int) {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	s.Messages = append(s.Messages, user, assistant)
	if n := len(s.Messages); n > maxMessages {
		// Keep the most recent entries in original order.
		s.Messages = append(s.Messages[:0], s.Messages[n-maxMessages:]...)
	}
	s.LastActivity = assistant.Timestamp
	if s.LastActivity.IsZero() {
		s.LastActivity = user.Timestamp
	}
}

// ResetContext clears the message history while preserving the system prompt.
func (s *Session) ResetContext() {
	s.Messages = nil
}

// Store is the key-value persistence contract for sessions.
//
// Set must refresh the entry's TTL. Implementations enforce expiry themselves
// (in-process sweep or storage-backend TTL); callers never sweep.
type Store interface {
	// Get returns the live session for id, or [ErrNotFound].
	Get(ctx context.Context, id string) (*Session, error)

	// Set writes the session under id and refreshes its TTL.
	Set(ctx context.Context, id string, s *Session) error

	// Delete removes the session. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
