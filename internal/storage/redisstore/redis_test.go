package redisstore

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clibin/internal/storage"
	"clibin/internal/storage/storagetest"
)

var prefixSeq atomic.Int64

func TestStoreContract(t *testing.T) {
	url := os.Getenv("CLIBIN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CLIBIN_TEST_REDIS_URL not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Store {
		prefix := fmt.Sprintf("clibin-test:%d:%d:", time.Now().UnixNano(), prefixSeq.Add(1))
		s, err := Open(context.Background(), url, prefix)
		require.NoError(t, err)

		t.Cleanup(func() {
			cleanup, err := Open(context.Background(), url, prefix)
			if err != nil {
				return
			}
			defer cleanup.Close()
			ids, _ := cleanup.ListIDs(context.Background())
			for _, id := range ids {
				_ = cleanup.Delete(context.Background(), id)
			}
		})
		return s
	})
}

func TestOpen_RejectsBadURL(t *testing.T) {
	_, err := Open(context.Background(), "not-a-url", "")
	require.Error(t, err)
}
