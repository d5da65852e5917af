package jobs

import (
	"context"

	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/models"
)

// DefaultListLimit caps ListByClient when the caller passes a non-positive limit.
const DefaultListLimit = 100

type Repository interface {
	Create(ctx context.Context, job *models.PrintJob) error
	Get(ctx context.Context, id string) (*models.PrintJob, error)
	// UpdateStatus changes the status only while the stored status still
	// equals from. It returns common.ErrInvalidStatusTransition when it does not.
	UpdateStatus(ctx context.Context, id string, from, to protocol.JobStatus, message string) error
	ListByClient(ctx context.Context, clientID string, limit int) ([]*models.PrintJob, error)
}
