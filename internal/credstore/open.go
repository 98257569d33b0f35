package credstore

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Profile     string
	Path        string
	PostgresDSN string
	RedisURL    string
}

// Open returns the configured backend behind a write-through cache, plus a
// function releasing its resources.
func Open(ctx context.Context, opts Options) (Store, func() error, error) {
	noop := func() error { return nil }
	profile := normalizeProfile(opts.Profile)

	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		path := opts.Path
		if path == "" {
			p, err := DefaultPath(profile)
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		return NewCached(NewFile(path)), noop, nil
	case BackendMemory:
		return NewMemory(), noop, nil
	case BackendPostgres:
		s, err := OpenSQL(opts.PostgresDSN, profile)
		if err != nil {
			return nil, nil, fmt.Errorf("credstore: open postgres: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return NewCached(s), s.Close, nil
	case BackendRedis:
		client, err := ConnectRedis(opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("credstore: ping redis: %w", err)
		}
		return NewCached(NewRedis(client, profile)), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: backend %q", ErrInvalidInput, opts.Backend)
	}
}
