// Package sessionstore persists ranking sessions between requests.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/okian/songrank/internal/domain/session"
)

// Sentinel kinds for session store errors.
var (
	ErrNotFound = errors.New("session not found")
	ErrNoID     = errors.New("session id must not be empty")
)

// Store saves and loads sessions by id. Implementations return copies so
// callers may mutate what they get.
type Store interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Put(ctx context.Context, s *session.Session) error
	// Delete reports whether a session was removed.
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

func observe(backend, op string, start time.Time) {
	recordLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
}
