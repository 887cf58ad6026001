// Package storagetest holds the behavior every storage.Store backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clibin/internal/storage"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.Store

// Run exercises the storage.Store contract against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateRead", testCreateRead},
		{"CreateDoesNotOverwrite", testCreateDoesNotOverwrite},
		{"ReadMissing", testReadMissing},
		{"DeleteTwice", testDeleteTwice},
		{"ListIDs", testListIDs},
		{"ConcurrentDeleteHasOneWinner", testConcurrentDelete},
		{"ConcurrentCreateHasOneWinner", testConcurrentCreate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testCreateRead(t *testing.T, s storage.Store) {
	ctx := context.Background()
	blob := []byte("{\"expires_at\":1}\nhello\nworld")
	require.NoError(t, s.Create(ctx, "abc123", blob))

	got, err := s.Read(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func testCreateDoesNotOverwrite(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "dup", []byte("first")))

	err := s.Create(ctx, "dup", []byte("second"))
	assert.ErrorIs(t, err, storage.ErrExists)

	got, err := s.Read(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func testReadMissing(t *testing.T, s storage.Store) {
	_, err := s.Read(context.Background(), "nothere")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteTwice(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "gone", []byte("x")))
	require.NoError(t, s.Delete(ctx, "gone"))
	assert.ErrorIs(t, s.Delete(ctx, "gone"), storage.ErrNotFound)

	_, err := s.Read(ctx, "gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testListIDs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	want := []string{"a1", "b2", "c3"}
	for _, id := range want {
		require.NoError(t, s.Create(ctx, id, []byte(id)))
	}
	ids, err = s.ListIDs(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, want, ids)
}

func testConcurrentDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "race", []byte("once")))

	const workers = 16
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		notFound atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Delete(ctx, "race")
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, storage.ErrNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), notFound.Load())
}

func testConcurrentCreate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const workers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Create(ctx, "claim", []byte(fmt.Sprintf("writer-%d", i)))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, storage.ErrExists)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
