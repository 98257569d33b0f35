package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Set(_ context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNotFound
	}
	return s.token, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}
