// Package redisstore implements storage.Store on Redis. Each paste is a
// string key holding the encoded blob.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"clibin/internal/storage"
)

// DefaultPrefix namespaces paste keys.
const DefaultPrefix = "clibin:paste:"

// Store implements storage.Store backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// Open connects to the Redis server at url and verifies it responds.
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(id string) string { return s.prefix + id }

// Create stores blob with SET NX so an existing id is never replaced.
func (s *Store) Create(ctx context.Context, id string, blob []byte) error {
	ok, err := s.client.SetNX(ctx, s.key(id), blob, 0).Result()
	if err != nil {
		return fmt.Errorf("save paste: %w", err)
	}
	if !ok {
		return storage.ErrExists
	}
	return nil
}

// Read fetches the blob for id.
func (s *Store) Read(ctx context.Context, id string) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read paste: %w", err)
	}
	return blob, nil
}

// Delete removes id. DEL is atomic, only one caller sees a removed key.
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete paste: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListIDs walks the keyspace with SCAN. Keys added or removed during the
// walk may or may not be reported.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan pastes: %w", err)
	}
	return ids, nil
}

// Close closes the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
