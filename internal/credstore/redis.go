package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "console:credential:"

// RedisStore keeps the credential under a single Redis key per profile.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// ConnectRedis accepts either a redis:// URL or a host:port address.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("credstore: parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedis returns a store for profile on client.
func NewRedis(client *redis.Client, profile string) *RedisStore {
	return &RedisStore{client: client, key: redisKeyPrefix + normalizeProfile(profile)}
}

// Key returns the Redis key holding the credential.
func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Set(ctx context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("credstore: set: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credstore: get: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("credstore: clear: %w", err)
	}
	return nil
}
