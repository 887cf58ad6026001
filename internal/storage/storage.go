package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no blob is stored under an id.
	ErrNotFound = errors.New("paste not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("paste already exists")
)

// Store persists opaque paste blobs keyed by id.
//
// Implementations must be safe for concurrent use. Delete must be atomic per
// id: when several callers delete the same id, exactly one of them succeeds
// and the others observe ErrNotFound.
type Store interface {
	// Create stores blob under id. It never overwrites an existing blob.
	Create(ctx context.Context, id string, blob []byte) error
	Read(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// ListIDs returns a snapshot of the stored ids.
	ListIDs(ctx context.Context) ([]string, error)
	Close() error
}
