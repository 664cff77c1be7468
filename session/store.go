package session

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	ErrNotFound   = errors.New("session not found")
	ErrLoadFailed = errors.New("session load failed")
	ErrSaveFailed = errors.New("session save failed")
)

// Store is durable keyed storage for session records.
//
// Implementations must hand out isolated records: a session returned by
// Create or Get is never aliased to stored state, and Put captures a copy.
// Concurrent processors therefore share state only through explicit
// Put/Get round trips. Implementations must be safe for concurrent use.
type Store interface {
	// Create allocates a new session with a fresh id and persists it.
	Create(ctx context.Context) (*Session, error)
	// Get retrieves the session with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// Put persists the session, creating or overwriting as needed.
	Put(ctx context.Context, s *Session) error
	// Delete removes the session. Missing ids are ignored.
	Delete(ctx context.Context, id string) error
}
