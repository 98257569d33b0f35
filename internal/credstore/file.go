package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileKey = "access_token"

// FileStore keeps the credential in a JSON document on disk, one file per profile.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

type fileDocument struct {
	AccessToken string    `json:"access_token"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewFile returns a store backed by path. The parent directory is created on first write.
func NewFile(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns <user config dir>/qazna-console/<profile>.json.
func DefaultPath(profile string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("credstore: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "qazna-console", normalizeProfile(profile)+".json"), nil
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Set(_ context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	data, err := json.Marshal(fileDocument{AccessToken: token, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credstore: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credential-*")
	if err != nil {
		return fmt.Errorf("credstore: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credstore: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("credstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("credstore: replace: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credstore: read: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("credstore: decode %s: %w", s.path, err)
	}
	if doc.AccessToken == "" {
		return "", ErrNotFound
	}
	return doc.AccessToken, nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: remove: %w", err)
	}
	return nil
}
