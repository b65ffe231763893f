package session

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a thread-safe Store for local development and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]Session)}
}

// Set stores s.
func (s *InMemoryStore) Set(_ context.Context, sess Session) error {
	if sess.ChildDeviceID == "" {
		return fmt.Errorf("session has no child device id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ChildDeviceID] = sess
	return nil
}

// Fetch retrieves the session of childDeviceID.
func (s *InMemoryStore) Fetch(_ context.Context, childDeviceID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[childDeviceID]
	if !ok {
		return Session{}, fmt.Errorf("device %q: %w", childDeviceID, ErrNotFound)
	}
	return sess, nil
}

// Delete removes the session of childDeviceID.
func (s *InMemoryStore) Delete(_ context.Context, childDeviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, childDeviceID)
	return nil
}

// Close is a no-op for the in-memory implementation.
func (s *InMemoryStore) Close() error {
	return nil
}
