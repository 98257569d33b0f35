package credstore

import (
	"context"
	"errors"
	"sync"
)

// Cached is the process-wide holder in front of a durable backend. The
// backend is read once; afterwards reads are served from memory and writes
// go through to the backend before the cached value changes.
type Cached struct {
	backend Store

	mu     sync.RWMutex
	loaded bool
	token  string
}

var _ Store = (*Cached)(nil)

// NewCached wraps backend.
func NewCached(backend Store) *Cached {
	return &Cached{backend: backend}
}

func (c *Cached) Set(ctx context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.Set(ctx, token); err != nil {
		return err
	}
	c.token = token
	c.loaded = true
	return nil
}

func (c *Cached) Get(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.loaded {
		token := c.token
		c.mu.RUnlock()
		if token == "" {
			return "", ErrNotFound
		}
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		token, err := c.backend.Get(ctx)
		switch {
		case errors.Is(err, ErrNotFound):
			token = ""
		case err != nil:
			return "", err
		}
		c.token = token
		c.loaded = true
	}
	if c.token == "" {
		return "", ErrNotFound
	}
	return c.token, nil
}

// Clear empties the cache even when the backend fails so the process never
// keeps sending a credential it was told to forget.
func (c *Cached) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.loaded = true
	return c.backend.Clear(ctx)
}
