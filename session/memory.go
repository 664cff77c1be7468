package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type memoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewMemoryStore creates a Store backed by an in-memory map. Sessions are
// assigned UUIDv7 identifiers. Suitable for tests and single-process
// deployments; records do not survive a restart.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*Session)}
}

func (s *memoryStore) Create(_ context.Context) (*Session, error) {
	sess := &Session{ID: uuid.Must(uuid.NewV7()).String()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return sess, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess.Clone(), nil
}

func (s *memoryStore) Put(_ context.Context, sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("%w: session has no id", ErrSaveFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
