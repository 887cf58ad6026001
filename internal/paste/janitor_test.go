package paste

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clibin/internal/record"
	"clibin/internal/storage"
	"clibin/internal/storage/fsstore"
)

func putRecord(t *testing.T, s storage.Store, pid string, expires time.Time) {
	t.Helper()
	blob, err := record.Encode(record.Record{Content: []byte(pid), ExpiresAt: expires})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), pid, blob))
}

func TestSweep_LeavesOnlyLiveRecords(t *testing.T) {
	clk := newClock()
	store, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)

	putRecord(t, store, "expired", clk.Now().Add(-time.Second))
	putRecord(t, store, "live", clk.Now().Add(time.Hour))
	require.NoError(t, store.Create(context.Background(), "corrupt", []byte("{\"expires_at\":")))

	j := NewJanitor(store, JanitorConfig{Now: clk.Now})
	report, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 3, Expired: 1, Corrupt: 1}, report)

	ids, err := store.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids)
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	clk := newClock()
	inner := newMemoryStore()
	putRecord(t, inner, "a", clk.Now().Add(-time.Second))
	putRecord(t, inner, "b", clk.Now().Add(-time.Second))
	putRecord(t, inner, "c", clk.Now().Add(time.Hour))
	store := &countingStore{Store: inner, deleteErr: errors.New("permission denied")}

	j := NewJanitor(store, JanitorConfig{Now: clk.Now})
	report, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Failed)
	assert.Zero(t, report.Expired)
}

// racingStore deletes a record behind the janitor's back between its read
// and its delete.
type racingStore struct {
	*memoryStore
}

func (r racingStore) Read(ctx context.Context, id string) ([]byte, error) {
	b, err := r.memoryStore.Read(ctx, id)
	if err == nil {
		_ = r.memoryStore.Delete(ctx, id)
	}
	return b, err
}

func TestSweep_ToleratesConcurrentDeletes(t *testing.T) {
	clk := newClock()
	inner := newMemoryStore()
	putRecord(t, inner, "x", clk.Now().Add(-time.Second))

	report, err := NewJanitor(racingStore{inner}, JanitorConfig{Now: clk.Now}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.False(t, inner.has("x"))
}

func TestSweep_StopsBetweenRecordsOnCancel(t *testing.T) {
	clk := newClock()
	store := newMemoryStore()
	putRecord(t, store, "a", clk.Now().Add(-time.Second))
	putRecord(t, store, "b", clk.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := NewJanitor(store, JanitorConfig{Now: clk.Now}).Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Scanned)
	ids, _ := store.ListIDs(context.Background())
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestRun_SweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	clk := newClock()
	store := newMemoryStore()
	putRecord(t, store, "old", clk.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := NewJanitor(store, JanitorConfig{Interval: time.Hour, Now: clk.Now}).Start(ctx)

	require.Eventually(t, func() bool { return !store.has("old") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestJanitorAndServiceRunConcurrently(t *testing.T) {
	store, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)
	clk := newClock()
	svc := newTestService(t, store, clk)
	j := NewJanitor(store, JanitorConfig{Now: clk.Now})
	ctx := context.Background()

	live := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		pid, err := svc.Submit(ctx, []byte("keep"), Options{})
		require.NoError(t, err)
		live = append(live, pid)
	}

	errc := make(chan error, 1)
	go func() {
		for i := 0; i < 20; i++ {
			if _, err := j.Sweep(ctx); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()
	for _, pid := range live {
		p, err := svc.Retrieve(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, "keep", string(p.Content))
	}
	require.NoError(t, <-errc)
}
