package paste

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clibin/internal/id"
	"clibin/internal/policy"
	"clibin/internal/record"
	"clibin/internal/storage"
	"clibin/internal/storage/fsstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0).UTC()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, store storage.Store, clk *clock) *Service {
	t.Helper()
	svc, err := NewService(store, Config{
		Generator: id.New(6),
		MaxSize:   64,
		Now:       clk.Now,
	})
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(nil, Config{})
	assert.Error(t, err)
}

func TestSubmitRetrieve_RoundTrip(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, newClock())
	ctx := context.Background()

	pid, err := svc.Submit(ctx, []byte("hello\nworld"), Options{})
	require.NoError(t, err)
	assert.True(t, id.Valid(pid))
	assert.Len(t, pid, 6)

	p, err := svc.Retrieve(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\nworld"), p.Content)
	assert.False(t, p.Onetime)

	// Not onetime: still there.
	p, err = svc.Retrieve(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", string(p.Content))
}

func TestSubmit_DefaultExpiry(t *testing.T) {
	clk := newClock()
	store := newMemoryStore()
	svc := newTestService(t, store, clk)
	ctx := context.Background()

	pid, err := svc.Submit(ctx, []byte("x"), Options{})
	require.NoError(t, err)

	p, err := svc.Lookup(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(policy.DefaultTTL), p.ExpiresAt)
	assert.Equal(t, clk.Now(), p.CreatedAt)

	clk.Advance(policy.DefaultTTL - time.Second)
	_, err = svc.Retrieve(ctx, pid)
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = svc.Retrieve(ctx, pid)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.has(pid), "expired paste removed on read")
}

func TestSubmit_SizeBoundary(t *testing.T) {
	store := &countingStore{Store: newMemoryStore()}
	svc := newTestService(t, store, newClock())
	ctx := context.Background()

	_, err := svc.Submit(ctx, bytes.Repeat([]byte("a"), 64), Options{})
	require.NoError(t, err)

	before := store.calls.Load()
	_, err = svc.Submit(ctx, bytes.Repeat([]byte("a"), 65), Options{})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.True(t, IsClientError(err))
	assert.Equal(t, before, store.calls.Load(), "oversize content never reaches the store")
}

func TestSubmit_PerCallMaxSize(t *testing.T) {
	svc := newTestService(t, newMemoryStore(), newClock())
	_, err := svc.Submit(context.Background(), []byte("12345"), Options{MaxSize: 4})
	assert.ErrorIs(t, err, ErrTooLarge)

	// A per-call cap cannot raise the service cap.
	_, err = svc.Submit(context.Background(), bytes.Repeat([]byte("a"), 65), Options{MaxSize: 1000})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSubmit_RejectsEmptyContent(t *testing.T) {
	svc := newTestService(t, newMemoryStore(), newClock())
	_, err := svc.Submit(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmit_NonPositiveExpiryIsRejected(t *testing.T) {
	store := &countingStore{Store: newMemoryStore()}
	svc := newTestService(t, store, newClock())

	for _, d := range []time.Duration{0, -time.Hour} {
		pid, err := svc.Submit(context.Background(), []byte("x"), Options{TTL: policy.After(d)})
		assert.ErrorIs(t, err, ErrInvalidOption)
		assert.Empty(t, pid)
	}
	assert.Zero(t, store.calls.Load())
}

func TestSubmit_ClampsExpiry(t *testing.T) {
	clk := newClock()
	svc, err := NewService(newMemoryStore(), Config{MaxTTL: time.Hour, Now: clk.Now})
	require.NoError(t, err)

	pid, err := svc.Submit(context.Background(), []byte("x"), Options{TTL: policy.After(48 * time.Hour)})
	require.NoError(t, err)
	p, err := svc.Lookup(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), p.ExpiresAt)
}

func TestSubmit_RetriesOnCollision(t *testing.T) {
	store := &countingStore{
		Store:      newMemoryStore(),
		createErrs: []error{storage.ErrExists, storage.ErrExists},
	}
	svc := newTestService(t, store, newClock())

	pid, err := svc.Submit(context.Background(), []byte("x"), Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.createCalled.Load())

	p, err := svc.Retrieve(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, "x", string(p.Content))
}

func TestSubmit_CollisionsExhausted(t *testing.T) {
	errs := make([]error, defaultIDAttempts)
	for i := range errs {
		errs[i] = storage.ErrExists
	}
	store := &countingStore{Store: newMemoryStore(), createErrs: errs}
	svc := newTestService(t, store, newClock())

	_, err := svc.Submit(context.Background(), []byte("x"), Options{})
	assert.ErrorIs(t, err, ErrIDExhausted)
	assert.False(t, IsClientError(err))
	assert.Equal(t, int32(defaultIDAttempts), store.createCalled.Load())
}

func TestSubmit_StorageFailureSurfaces(t *testing.T) {
	boom := errors.New("disk full")
	store := &countingStore{Store: newMemoryStore(), createErrs: []error{boom}}
	svc := newTestService(t, store, newClock())

	_, err := svc.Submit(context.Background(), []byte("x"), Options{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsClientError(err))
}

func TestRetrieve_MalformedIDNeverTouchesStorage(t *testing.T) {
	store := &countingStore{Store: newMemoryStore()}
	svc := newTestService(t, store, newClock())

	for _, bad := range []string{"", "../etc", "a.b", "abcdefghijk", "sp ace", "ünï"} {
		_, err := svc.Retrieve(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidInput, "id %q", bad)
		_, err = svc.Lookup(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidInput, "id %q", bad)
	}
	assert.Zero(t, store.calls.Load())
}

func TestRetrieve_Missing(t *testing.T) {
	svc := newTestService(t, newMemoryStore(), newClock())
	_, err := svc.Retrieve(context.Background(), "nope42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieve_CorruptRecordIsRemoved(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.Create(context.Background(), "broken", []byte("garbage without newline")))
	svc := newTestService(t, store, newClock())

	_, err := svc.Retrieve(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.has("broken"))
}

func TestRetrieve_ExpiredRecordIsRemoved(t *testing.T) {
	clk := newClock()
	store := newMemoryStore()
	blob, err := record.Encode(record.Record{
		Content:   []byte("old"),
		ExpiresAt: clk.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), "old123", blob))
	svc := newTestService(t, store, clk)

	_, err = svc.Retrieve(context.Background(), "old123")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.has("old123"))
}

func TestRetrieve_OnetimeServedOnce(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, newClock())
	ctx := context.Background()

	pid, err := svc.Submit(ctx, []byte("secret"), Options{Onetime: true})
	require.NoError(t, err)

	p, err := svc.Lookup(ctx, pid)
	require.NoError(t, err, "lookup does not consume")
	assert.True(t, p.Onetime)
	assert.Nil(t, p.Content)

	p, err = svc.Retrieve(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(p.Content))

	_, err = svc.Retrieve(ctx, pid)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.has(pid))
}

func TestRetrieve_OnetimeConcurrentReadersGetOneCopy(t *testing.T) {
	store, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)
	svc := newTestService(t, store, newClock())
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		pid, err := svc.Submit(ctx, []byte("burn"), Options{Onetime: true})
		require.NoError(t, err)

		const readers = 8
		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			served   atomic.Int32
			notFound atomic.Int32
		)
		for i := 0; i < readers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				p, err := svc.Retrieve(ctx, pid)
				switch {
				case err == nil:
					assert.Equal(t, "burn", string(p.Content))
					served.Add(1)
				case errors.Is(err, ErrNotFound):
					notFound.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), served.Load(), "round %d", round)
		require.Equal(t, int32(readers-1), notFound.Load(), "round %d", round)
	}
}

func TestRetrieve_OnetimeDeleteFailureWithholdsContent(t *testing.T) {
	boom := errors.New("io error")
	inner := newMemoryStore()
	store := &countingStore{Store: inner}
	svc := newTestService(t, store, newClock())

	pid, err := svc.Submit(context.Background(), []byte("secret"), Options{Onetime: true})
	require.NoError(t, err)

	store.deleteErr = boom
	p, err := svc.Retrieve(context.Background(), pid)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, p.Content)
	assert.True(t, inner.has(pid))
}

func TestRetrieve_HonorsCancelledContext(t *testing.T) {
	store := &countingStore{Store: newMemoryStore()}
	svc := newTestService(t, store, newClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Retrieve(ctx, "abc123")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.calls.Load())
}
