// Package postgres provides a PostgreSQL-backed implementation of
// [session.Store] using pgx. Session state is stored as a jsonb payload with
// an expires_at column; expiry is enforced inside the queries themselves so
// the router never has to sweep.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nord-m/coursevoice/internal/session"
)

// Compile-time assertion that Store satisfies the session.Store interface.
var _ session.Store = (*Store)(nil)

// Store persists sessions in a `sessions` table. All methods are safe for
// concurrent use. Like every [session.Store], writes are last-writer-wins.
type Store struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// New connects to the database at dsn and ensures the schema exists. A ttl of
// 0 or less applies [session.DefaultTTL].
func New(ctx context.Context, dsn string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("session postgres: connect: %w", err)
	}
	s := &Store{pool: pool, ttl: ttl}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the sessions table if it does not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS sessions (
		    id         text PRIMARY KEY,
		    data       jsonb NOT NULL,
		    expires_at timestamptz NOT NULL
		)`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("session postgres: ensure schema: %w", err)
	}
	return nil
}

// Get implements [session.Store]. Expired rows are invisible to readers and
// removed opportunistically.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	const q = `
		SELECT data
		FROM   sessions
		WHERE  id = $1
		  AND  expires_at > now()`

	var data []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session postgres: get: %w", err)
	}

	sess := &session.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("session postgres: decode session %q: %w", id, err)
	}
	return sess, nil
}

// Set implements [session.Store]. The upsert restarts the TTL clock.
func (s *Store) Set(ctx context.Context, id string, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session postgres: encode session %q: %w", id, err)
	}

	const q = `
		INSERT INTO sessions (id, data, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`

	if _, err := s.pool.Exec(ctx, q, id, data, s.ttl.Seconds()); err != nil {
		return fmt.Errorf("session postgres: set: %w", err)
	}
	return nil
}

// Delete implements [session.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM sessions WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("session postgres: delete: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose TTL has elapsed. Optional housekeeping for
// deployments that want the table kept tight; readers never see expired rows
// either way.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("session postgres: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
