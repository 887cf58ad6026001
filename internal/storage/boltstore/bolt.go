package boltstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"clibin/internal/storage"
)

var pasteBucket = []byte("pastes")

// Store implements storage.Store backed by BoltDB.
type Store struct {
	db *bolt.DB
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pasteBucket); err != nil {
			return fmt.Errorf("create paste bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Create stores blob under id unless the id is taken.
func (s *Store) Create(ctx context.Context, id string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		if bucket.Get([]byte(id)) != nil {
			return storage.ErrExists
		}
		if err := bucket.Put([]byte(id), blob); err != nil {
			return fmt.Errorf("save paste: %w", err)
		}
		return nil
	})
}

// Read retrieves the blob for id.
func (s *Store) Read(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound
		}
		// raw is only valid for the life of the transaction.
		out = append([]byte(nil), raw...)
		return nil
	})
	return out, err
}

// Delete removes a paste.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		if bucket.Get([]byte(id)) == nil {
			return storage.ErrNotFound
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete paste: %w", err)
		}
		return nil
	})
}

// ListIDs returns every key in the paste bucket.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		ids = make([]string, 0, bucket.Stats().KeyN)
		return bucket.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
