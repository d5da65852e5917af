package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConn stores every frame; after stallAfter frames it blocks until
// the caller's context ends, like a peer that stopped reading.
type recordingConn struct {
	mu         sync.Mutex
	frames     []protocol.PrintFrame
	stallAfter int
	sendErr    error
	closed     bool
}

func (c *recordingConn) Send(ctx context.Context, msg any) error {
	c.mu.Lock()
	if c.sendErr != nil {
		c.mu.Unlock()
		return c.sendErr
	}
	if c.stallAfter > 0 && len(c.frames) >= c.stallAfter {
		c.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	c.frames = append(c.frames, msg.(protocol.PrintFrame))
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) Ping(context.Context) error { return nil }
func (c *recordingConn) Close() error               { c.closed = true; return nil }
func (c *recordingConn) Open() bool                 { return !c.closed }

func (c *recordingConn) snapshot() []protocol.PrintFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.PrintFrame(nil), c.frames...)
}

func setup(t *testing.T, conn *recordingConn, authenticate bool) *registry.Registry {
	t.Helper()
	reg := registry.New(logging.Nop())
	reg.Add(context.Background(), "shop-1", conn)
	if authenticate {
		reg.Authenticate(context.Background(), "shop-1", conn)
	}
	return reg
}

func payload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestNewJobID_Format(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.Regexp(t, regexp.MustCompile(`^\d{13}-[0-9a-f]{8}$`), a)
	assert.NotEqual(t, a, b)
}

func TestSend_DeliversFramesAndDone(t *testing.T) {
	conn := &recordingConn{}
	s := NewSender(setup(t, conn, true), 100, time.Second, logging.Nop())
	data := payload(t, 250)
	settings := printsettings.Default()

	require.NoError(t, s.Send(context.Background(), "shop-1", "job-1", data, settings))

	frames := conn.snapshot()
	require.Len(t, frames, 4)
	assert.True(t, frames[3].Done)
	assert.Equal(t, int64(250), frames[3].Total)

	r := protocol.NewReassembler(time.Minute)
	var art *protocol.Artifact
	for _, f := range frames {
		got, err := r.Accept(f)
		require.NoError(t, err)
		if got != nil {
			art = got
		}
	}
	require.NotNil(t, art)
	assert.True(t, bytes.Equal(data, art.Payload))
	assert.Equal(t, settings, art.Settings)
}

func TestSend_NoAuthenticatedClient(t *testing.T) {
	tests := []struct {
		name string
		reg  func() Registry
	}{
		{name: "unknown identity", reg: func() Registry { return registry.New(logging.Nop()) }},
		{name: "not authenticated", reg: func() Registry { return setup(t, &recordingConn{}, false) }},
		{name: "closed handle", reg: func() Registry { return setup(t, &recordingConn{closed: true}, true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSender(tt.reg(), 10, time.Second, logging.Nop())
			err := s.Send(context.Background(), "shop-1", "j", []byte("x"), printsettings.Default())
			require.ErrorIs(t, err, common.ErrNoAuthenticatedClient)
		})
	}
}

func TestSend_TimeoutAfterPartialTransfer(t *testing.T) {
	const frameSize = 10
	const frameCount = 10

	conn := &recordingConn{stallAfter: frameCount * 4 / 10}
	s := NewSender(setup(t, conn, true), frameSize, 50*time.Millisecond, logging.Nop())

	err := s.Send(context.Background(), "shop-1", "job-slow", payload(t, frameSize*frameCount), printsettings.Default())
	require.ErrorIs(t, err, common.ErrSendTimeout)

	frames := conn.snapshot()
	assert.Len(t, frames, 4)

	r := protocol.NewReassembler(time.Minute)
	for _, f := range frames {
		art, err := r.Accept(f)
		require.NoError(t, err)
		assert.Nil(t, art)
	}
	assert.True(t, r.Has("job-slow"), "receiver keeps an incomplete buffer until reaped")
}

func TestSend_TransportError(t *testing.T) {
	conn := &recordingConn{sendErr: errors.New("broken pipe")}
	s := NewSender(setup(t, conn, true), 10, time.Second, logging.Nop())

	err := s.Send(context.Background(), "shop-1", "j", []byte("abc"), printsettings.Default())
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrSendTimeout)
	assert.ErrorContains(t, err, "broken pipe")
}

func TestSend_EmptyPayload(t *testing.T) {
	s := NewSender(setup(t, &recordingConn{}, true), 10, time.Second, logging.Nop())
	require.Error(t, s.Send(context.Background(), "shop-1", "j", nil, printsettings.Default()))
}

func TestSend_OneTransferInFlightPerIdentity(t *testing.T) {
	conn := &recordingConn{}
	s := NewSender(setup(t, conn, true), 1, 5*time.Second, logging.Nop())

	data := payload(t, 50)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, s.Send(context.Background(), "shop-1", id, data, printsettings.Default()))
		}(id)
	}
	wg.Wait()

	frames := conn.snapshot()
	require.Len(t, frames, 3*51)

	// frames of one job form a contiguous run ending with its done frame
	for i := 0; i < len(frames); i += 51 {
		job := frames[i].JobID
		for _, f := range frames[i : i+51] {
			assert.Equal(t, job, f.JobID)
		}
		assert.True(t, frames[i+50].Done)
	}
}

func TestNewSender_ChunkSizeLimits(t *testing.T) {
	reg := setup(t, &recordingConn{}, true)

	assert.Equal(t, protocol.DefaultChunkSize, NewSender(reg, 0, time.Second, logging.Nop()).chunkSize)
	assert.Equal(t, protocol.MaxChunkSize, NewSender(reg, 8<<20, time.Second, logging.Nop()).chunkSize)
	assert.Equal(t, 512, NewSender(reg, 512, time.Second, logging.Nop()).chunkSize)
}
