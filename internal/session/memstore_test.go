package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nord-m/coursevoice/pkg/chat"
)

func TestMemStore_SetGetRoundTrip(t *testing.T) {
	s := NewMemStore(time.Minute, 0)
	ctx := context.Background()

	sess := New("sys", time.Now())
	sess.Messages = []chat.Turn{{Role: chat.RoleUser, Text: "hi"}}

	if err := s.Set(ctx, "s1", sess); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SystemPrompt != "sys" || len(got.Messages) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestMemStore_GetAbsent(t *testing.T) {
	s := NewMemStore(time.Minute, 0)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_Delete(t *testing.T) {
	s := NewMemStore(time.Minute, 0)
	ctx := context.Background()

	if err := s.Set(ctx, "s1", New("", time.Now())); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
	// Deleting an absent id is not an error.
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestMemStore_TTLExpiry(t *testing.T) {
	s := NewMemStore(time.Minute, 0)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.Set(ctx, "s1", New("", now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after TTL", err)
	}
}

func TestMemStore_SetRefreshesTTL(t *testing.T) {
	s := NewMemStore(time.Minute, 0)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sess := New("", now)
	if err := s.Set(ctx, "s1", sess); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Rewrite just before expiry, then confirm the clock restarted.
	now = now.Add(50 * time.Second)
	if err := s.Set(ctx, "s1", sess); err != nil {
		t.Fatalf("second Set: %v", err)
	}
	now = now.Add(50 * time.Second)
	if _, err := s.Get(ctx, "s1"); err != nil {
		t.Errorf("Get after refresh: %v", err)
	}
}

func TestMemStore_GetReturnsCopy(t *testing.T) {
	s := NewMemStore(time.Minute, 0)
	ctx := context.Background()

	sess := New("sys", time.Now())
	sess.Messages = []chat.Turn{{Role: chat.RoleUser, Text: "original"}}
	if err := s.Set(ctx, "s1", sess); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Messages[0].Text = "mutated"

	again, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if again.Messages[0].Text != "original" {
		t.Errorf("stored state mutated through Get result: %q", again.Messages[0].Text)
	}
}
