// Package credstore holds the bearer credential for the current profile.
//
// A Store keeps at most one credential. Writing a new one supersedes the
// previous value and Clear on an empty store is a no-op. The credential is
// opaque: no backend inspects or parses it.
package credstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no credential is stored.
	ErrNotFound = errors.New("credstore: no credential")
	// ErrInvalidInput is returned by Set for an empty credential.
	ErrInvalidInput = errors.New("credstore: invalid input")
)

// DefaultProfile is the profile used when none is configured.
const DefaultProfile = "default"

// Store persists the single active credential.
type Store interface {
	Set(ctx context.Context, token string) error
	Get(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

func normalizeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidInput
	}
	return token, nil
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return DefaultProfile
	}
	return profile
}
