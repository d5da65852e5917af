package session

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, cleanup CleanupFunc) (*Store, *clock) {
	t.Helper()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	st := NewStore(30*time.Minute, cleanup, logging.Nop())
	st.now = c.Now
	return st, c
}

func TestCreate_RandomHexID(t *testing.T) {
	st, _ := newStore(t, nil)

	a, err := st.Create()
	require.NoError(t, err)
	b, err := st.Create()
	require.NoError(t, err)

	assert.Len(t, a, IDBytes*2)
	_, err = hex.DecodeString(a)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, st.Len())
}

func TestAddRemove_LeavesSessionEmpty(t *testing.T) {
	st, _ := newStore(t, nil)
	id, err := st.Create()
	require.NoError(t, err)

	names := []string{"a.pdf", "b.jpg", "a.pdf"}
	var stored []string
	for _, n := range names {
		f, err := st.AddFile(id, FileEntry{Filename: n, StoragePath: id + "/" + n})
		require.NoError(t, err)
		stored = append(stored, f.Filename)
	}
	assert.Equal(t, []string{"a.pdf", "b.jpg", "a-1.pdf"}, stored)

	for i, n := range stored {
		_, left, err := st.RemoveFile(id, n)
		require.NoError(t, err)
		assert.Equal(t, len(stored)-i-1, left)
	}

	s, ok := st.Get(id)
	require.True(t, ok)
	assert.Empty(t, s.Files)
}

func TestMutations_UnknownSessionAndFile(t *testing.T) {
	st, _ := newStore(t, nil)

	_, err := st.AddFile("missing", FileEntry{Filename: "a.pdf"})
	require.ErrorIs(t, err, common.ErrSessionNotFound)
	require.ErrorIs(t, st.Touch("missing"), common.ErrSessionNotFound)
	require.ErrorIs(t, st.SetMergedArtifact("missing", "m.pdf"), common.ErrSessionNotFound)
	require.ErrorIs(t, st.SetProcessed("missing", "a.pdf", "p.pdf"), common.ErrSessionNotFound)

	id, err := st.Create()
	require.NoError(t, err)
	_, _, err = st.RemoveFile(id, "nope.pdf")
	require.ErrorIs(t, err, common.ErrFileNotFound)
	require.ErrorIs(t, st.SetProcessed(id, "nope.pdf", "p.pdf"), common.ErrFileNotFound)
}

func TestGet_ReturnsCopy(t *testing.T) {
	st, _ := newStore(t, nil)
	id, _ := st.Create()
	_, err := st.AddFile(id, FileEntry{Filename: "a.pdf"})
	require.NoError(t, err)

	s, _ := st.Get(id)
	s.Files[0].Filename = "changed"

	again, _ := st.Get(id)
	assert.Equal(t, "a.pdf", again.Files[0].Filename)
}

func TestSetProcessedAndMerged(t *testing.T) {
	st, _ := newStore(t, nil)
	id, _ := st.Create()
	_, err := st.AddFile(id, FileEntry{Filename: "a.pdf"})
	require.NoError(t, err)

	require.NoError(t, st.SetProcessed(id, "a.pdf", "processed-1-a.pdf"))
	require.NoError(t, st.SetMergedArtifact(id, "merged-1.pdf"))

	s, _ := st.Get(id)
	assert.Equal(t, "processed-1-a.pdf", s.Files[0].ProcessedFilename)
	assert.Equal(t, "merged-1.pdf", s.MergedArtifactName)
}

func TestSweep_EvictsIdleSessionsOnce(t *testing.T) {
	var cleaned []string
	var mu sync.Mutex
	st, c := newStore(t, func(_ context.Context, s Session) error {
		mu.Lock()
		defer mu.Unlock()
		cleaned = append(cleaned, s.ID)
		return nil
	})
	ctx := context.Background()

	idle, _ := st.Create()
	_, err := st.AddFile(idle, FileEntry{Filename: "a.pdf"})
	require.NoError(t, err)

	c.Advance(20 * time.Minute)
	active, _ := st.Create()
	_, err = st.AddFile(active, FileEntry{Filename: "b.pdf"})
	require.NoError(t, err)

	c.Advance(11 * time.Minute)
	assert.Equal(t, 1, st.Sweep(ctx))
	assert.False(t, st.Exists(idle))
	assert.True(t, st.Exists(active))

	assert.Equal(t, 0, st.Sweep(ctx))
	assert.Equal(t, []string{idle}, cleaned)
}

func TestSweep_EvictsEmptySessionsAfterGrace(t *testing.T) {
	st, c := newStore(t, nil)
	id, _ := st.Create()

	assert.Equal(t, 0, st.Sweep(context.Background()))
	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, st.Sweep(context.Background()))
	assert.False(t, st.Exists(id))
}

func TestRemove_IsIdempotent(t *testing.T) {
	var calls atomic.Int32
	st, _ := newStore(t, func(context.Context, Session) error {
		calls.Add(1)
		return nil
	})
	id, _ := st.Create()

	require.NoError(t, st.Remove(context.Background(), id))
	require.NoError(t, st.Remove(context.Background(), id))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTouchRacingSweep_NoDoubleCleanup(t *testing.T) {
	var calls atomic.Int32
	st, c := newStore(t, func(context.Context, Session) error {
		calls.Add(1)
		return nil
	})

	var ids []string
	for i := 0; i < 50; i++ {
		id, _ := st.Create()
		_, err := st.AddFile(id, FileEntry{Filename: "a.pdf"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	c.Advance(31 * time.Minute)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = st.Touch(id)
		}(id)
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Sweep(context.Background())
		}()
	}
	wg.Wait()

	// every session was either kept by a touch or cleaned exactly once
	assert.Equal(t, len(ids), int(calls.Load())+st.Len())
}

func TestRun_StopsOnCancel(t *testing.T) {
	st, _ := newStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		st.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestReserveFile_KeyFollowsUniqueName(t *testing.T) {
	st, _ := newStore(t, nil)
	id, err := st.Create()
	require.NoError(t, err)

	key := func(name string) string { return id + "/" + name }

	a, err := st.ReserveFile(id, FileEntry{Filename: "doc.pdf"}, key)
	require.NoError(t, err)
	b, err := st.ReserveFile(id, FileEntry{Filename: "doc.pdf"}, key)
	require.NoError(t, err)

	assert.Equal(t, id+"/doc.pdf", a.StoragePath)
	assert.Equal(t, "doc-1.pdf", b.Filename)
	assert.Equal(t, id+"/doc-1.pdf", b.StoragePath)

	_, err = st.ReserveFile("missing", FileEntry{Filename: "x.pdf"}, key)
	require.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestUpdateFile(t *testing.T) {
	st, _ := newStore(t, nil)
	id, err := st.Create()
	require.NoError(t, err)
	_, err = st.AddFile(id, FileEntry{Filename: "a.png"})
	require.NoError(t, err)

	require.NoError(t, st.UpdateFile(id, "a.png", func(f *FileEntry) { f.SizeBytes = 42 }))

	s, ok := st.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(42), s.Files[0].SizeBytes)

	require.ErrorIs(t, st.UpdateFile(id, "b.png", func(*FileEntry) {}), common.ErrFileNotFound)
}
