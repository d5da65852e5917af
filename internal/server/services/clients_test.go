package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/clientstatus"
	"github.com/dmitrijs2005/printrelay/internal/server/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	sent []any
}

func (c *recordingConn) Send(_ context.Context, msg any) error {
	c.sent = append(c.sent, msg)
	return nil
}
func (c *recordingConn) Ping(context.Context) error { return nil }
func (c *recordingConn) Close() error               { return nil }
func (c *recordingConn) Open() bool                 { return true }

func TestClientService_ControlMessages(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(logging.Nop())
	store := clientstatus.NewMemoryStore(time.Minute)
	svc := NewClientService(reg, store, logging.Nop())

	err := svc.RequestPrinters(ctx, "shop")
	require.ErrorIs(t, err, common.ErrNoAuthenticatedClient)

	conn := &recordingConn{}
	reg.Add(ctx, "shop", conn)
	require.ErrorIs(t, svc.CancelJob(ctx, "shop", "j1"), common.ErrNoAuthenticatedClient, "not authenticated yet")

	reg.Authenticate(ctx, "shop", conn)
	require.NoError(t, svc.RequestPrinters(ctx, "shop"))
	require.NoError(t, svc.CancelJob(ctx, "shop", "j1"))

	require.Len(t, conn.sent, 2)
	assert.Equal(t, protocol.GetPrinters{Type: protocol.TypeGetPrinters}, conn.sent[0])
	assert.Equal(t, protocol.CancelJob{Type: protocol.TypeCancelJob, JobID: "j1"}, conn.sent[1])
	assert.Equal(t, []string{"shop"}, svc.Online())
}

func TestClientService_StatusUsesLiveConnection(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(logging.Nop())
	store := clientstatus.NewMemoryStore(time.Minute)
	svc := NewClientService(reg, store, logging.Nop())

	require.NoError(t, store.SetOnline(ctx, "shop", true))
	require.NoError(t, store.SetPrinters(ctx, "shop", protocol.PrinterStatusData{DefaultPrinter: "hp"}))

	st, err := svc.Status(ctx, "shop")
	require.NoError(t, err)
	assert.False(t, st.Online, "stale cache entry without a connection")
	require.NotNil(t, st.Printers)
	assert.Equal(t, "hp", st.Printers.DefaultPrinter)

	live := &recordingConn{}
	reg.Add(ctx, "shop", live)
	reg.Authenticate(ctx, "shop", live)

	st, err = svc.Status(ctx, "shop")
	require.NoError(t, err)
	assert.True(t, st.Online)
}
