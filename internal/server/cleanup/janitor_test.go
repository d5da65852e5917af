package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

type liveSessions map[string]bool

func (l liveSessions) Exists(id string) bool { return l[id] }

func put(t *testing.T, b *blob.Bucket, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, b.WriteAll(context.Background(), k, []byte("x"), nil))
	}
}

func exists(t *testing.T, b *blob.Bucket, key string) bool {
	t.Helper()
	ok, err := b.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestSweep_RemovesOnlyOldOrphans(t *testing.T) {
	ctx := context.Background()
	b := memblob.OpenBucket(nil)
	defer b.Close()

	put(t, b,
		"live/a.pdf",
		"live/processed-1-a.pdf",
		"gone/b.pdf",
		"artifacts/merged-1.pdf",
	)

	j := NewJanitor(b, liveSessions{"live": true}, time.Hour, logging.Nop())

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh objects are kept")

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, exists(t, b, "live/a.pdf"))
	assert.True(t, exists(t, b, "live/processed-1-a.pdf"))
	assert.False(t, exists(t, b, "gone/b.pdf"))
	assert.False(t, exists(t, b, "artifacts/merged-1.pdf"))

	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_InvalidSchedule(t *testing.T) {
	j := NewJanitor(memblob.OpenBucket(nil), liveSessions{}, 0, logging.Nop())
	assert.Error(t, j.Run(context.Background(), "not a schedule"))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	j := NewJanitor(memblob.OpenBucket(nil), liveSessions{}, 0, logging.Nop())
	assert.Equal(t, DefaultMaxAge, j.maxAge)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx, "@every 10ms") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
