package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/models"
	"github.com/dmitrijs2005/printrelay/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobService(t *testing.T) *JobService {
	t.Helper()
	return NewJobService(nil, repomanager.NewInMemoryRepositoryManager(), logging.Nop())
}

func update(id string, st protocol.JobStatus, msg string) protocol.JobUpdateData {
	return protocol.JobUpdateData{JobID: id, Status: st, Message: msg}
}

func TestJobService_ForwardOnly(t *testing.T) {
	ctx := context.Background()
	s := newJobService(t)

	require.NoError(t, s.Create(ctx, &models.PrintJob{ID: "j1", ClientID: "shop"}))

	require.NoError(t, s.ApplyUpdate(ctx, "shop", update("j1", protocol.StatusPrinting, "")))

	err := s.ApplyUpdate(ctx, "shop", update("j1", protocol.StatusPending, ""))
	require.ErrorIs(t, err, common.ErrInvalidStatusTransition)

	require.NoError(t, s.ApplyUpdate(ctx, "shop", update("j1", protocol.StatusCompleted, "")))

	// Terminal reports after the first are ignored.
	require.NoError(t, s.ApplyUpdate(ctx, "shop", update("j1", protocol.StatusFailed, "late")))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCompleted, job.Status)
	assert.Empty(t, job.Message)
}

func TestJobService_PendingStraightToTerminal(t *testing.T) {
	ctx := context.Background()
	s := newJobService(t)

	require.NoError(t, s.Create(ctx, &models.PrintJob{ID: "j1", ClientID: "shop"}))
	require.NoError(t, s.ApplyUpdate(ctx, "shop", update("j1", protocol.StatusCancelled, "")))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCancelled, job.Status)
}

func TestJobService_RejectsForeignClientAndUnknownJobs(t *testing.T) {
	ctx := context.Background()
	s := newJobService(t)

	require.NoError(t, s.Create(ctx, &models.PrintJob{ID: "j1", ClientID: "shop"}))

	err := s.ApplyUpdate(ctx, "intruder", update("j1", protocol.StatusPrinting, ""))
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	err = s.ApplyUpdate(ctx, "shop", update("missing", protocol.StatusPrinting, ""))
	require.ErrorIs(t, err, common.ErrorNotFound)

	err = s.ApplyUpdate(ctx, "shop", update("j1", protocol.JobStatus("exploded"), ""))
	require.ErrorIs(t, err, common.ErrInvalidStatusTransition)
}

func TestJobService_MarkFailed(t *testing.T) {
	ctx := context.Background()
	s := newJobService(t)

	require.NoError(t, s.Create(ctx, &models.PrintJob{ID: "j1", ClientID: "shop", Status: protocol.StatusCompleted}))

	job, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, job.Status, "Create always starts in pending")

	require.NoError(t, s.MarkFailed(ctx, "j1", "send timeout"))

	job, err = s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFailed, job.Status)
	assert.Equal(t, "send timeout", job.Message)

	list, err := s.List(ctx, "shop", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
