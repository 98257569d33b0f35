package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const credentialsTable = "console_credentials"

// SQLStore keeps the credential in PostgreSQL, one row per profile.
type SQLStore struct {
	db      *sql.DB
	profile string
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens a pgx-backed pool for dsn and returns a store for profile.
func OpenSQL(dsn, profile string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewSQL(db, profile), nil
}

// NewSQL wraps an existing handle.
func NewSQL(db *sql.DB, profile string) *SQLStore {
	return &SQLStore{db: db, profile: normalizeProfile(profile)}
}

// EnsureSchema creates the credentials table when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		create table if not exists `+credentialsTable+` (
			profile    text primary key,
			token      text not null,
			updated_at timestamptz not null default now()
		)`)
	if err != nil {
		return fmt.Errorf("credstore: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Set(ctx context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into `+credentialsTable+`(profile, token, updated_at)
		values ($1, $2, now())
		on conflict (profile) do update
		set token = excluded.token, updated_at = excluded.updated_at
	`, s.profile, token)
	if err != nil {
		return fmt.Errorf("credstore: set: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `select token from `+credentialsTable+` where profile=$1`, s.profile).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credstore: get: %w", err)
	}
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `delete from `+credentialsTable+` where profile=$1`, s.profile); err != nil {
		return fmt.Errorf("credstore: clear: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error { return s.db.Close() }
