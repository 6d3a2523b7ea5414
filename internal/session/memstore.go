package session

import (
	"context"
	"sync"
	"time"

	"github.com/nord-m/coursevoice/pkg/chat"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store] with
// TTL-based expiry. Expired entries are dropped on read; an optional janitor
// goroutine sweeps them on an interval so an idle server does not accumulate
// dead sessions.
type MemStore struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]memEntry

	stopOnce sync.Once
	stop     chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

type memEntry struct {
	session   *Session
	expiresAt time.Time
}

// NewMemStore returns an initialised [MemStore]. A ttl of 0 or less applies
// [DefaultTTL]. When sweepInterval is positive a background janitor removes
// expired entries; call [MemStore.Close] to stop it.
func NewMemStore(ttl, sweepInterval time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemStore{
		ttl:     ttl,
		entries: make(map[string]memEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		go s.janitor(sweepInterval)
	}
	return s
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || s.now().After(e.expiresAt) {
		return nil, ErrNotFound
	}

	// Return a copy so callers cannot mutate stored state without Set.
	cp := *e.session
	cp.Messages = append([]chat.Turn(nil), e.session.Messages...)
	return &cp, nil
}

// Set implements [Store.Set]. The entry's TTL is restarted from now.
func (s *MemStore) Set(_ context.Context, id string, sess *Session) error {
	cp := *sess
	cp.Messages = append([]chat.Turn(nil), sess.Messages...)

	s.mu.Lock()
	s.entries[id] = memEntry{session: &cp, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor goroutine, if one was started. Safe to call more
// than once.
func (s *MemStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// janitor periodically removes expired entries.
func (s *MemStore) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			now := s.now()
			s.mu.Lock()
			for id, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
