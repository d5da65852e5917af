package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/models"
	"github.com/dmitrijs2005/printrelay/internal/server/repositories/repomanager"
)

// JobService keeps the server-side record of delivered print jobs and
// applies the status updates clients report for them.
//
// A record only moves forward: pending may become printing or any terminal
// status, printing may become a terminal status. Reports that repeat the
// current status or arrive after a terminal status are ignored.
type JobService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewJobService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *JobService {
	return &JobService{db: db, repomanager: m, log: logger.With("module", "jobs")}
}

// Create stores a new job in the pending state.
func (s *JobService) Create(ctx context.Context, job *models.PrintJob) error {
	job.Status = protocol.StatusPending
	if err := s.repomanager.Jobs(s.db).Create(ctx, job); err != nil {
		return fmt.Errorf("error creating job: %w", err)
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (*models.PrintJob, error) {
	return s.repomanager.Jobs(s.db).Get(ctx, id)
}

func (s *JobService) List(ctx context.Context, clientID string, limit int) ([]*models.PrintJob, error) {
	return s.repomanager.Jobs(s.db).ListByClient(ctx, clientID, limit)
}

// ApplyUpdate records a status reported by clientID. Updates for jobs that
// belong to another client yield common.ErrorUnauthorized.
func (s *JobService) ApplyUpdate(ctx context.Context, clientID string, upd protocol.JobUpdateData) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", common.ErrInvalidStatusTransition, upd.Status)
	}

	repo := s.repomanager.Jobs(s.db)
	job, err := repo.Get(ctx, upd.JobID)
	if err != nil {
		return err
	}
	if job.ClientID != clientID {
		return common.ErrorUnauthorized
	}

	return s.transition(ctx, job, upd.Status, upd.Message)
}

// MarkFailed moves a non-terminal job to failed with the given reason.
func (s *JobService) MarkFailed(ctx context.Context, id, reason string) error {
	job, err := s.repomanager.Jobs(s.db).Get(ctx, id)
	if err != nil {
		return err
	}
	return s.transition(ctx, job, protocol.StatusFailed, reason)
}

func (s *JobService) transition(ctx context.Context, job *models.PrintJob, to protocol.JobStatus, message string) error {
	from := job.Status
	if from == to || from.Terminal() {
		s.log.Debug(ctx, "ignoring job update", "job_id", job.ID, "status", from, "reported", to)
		return nil
	}
	if !allowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidStatusTransition, from, to)
	}

	err := s.repomanager.Jobs(s.db).UpdateStatus(ctx, job.ID, from, to, message)
	if errors.Is(err, common.ErrInvalidStatusTransition) {
		// Another update won the race; re-read and retry against the new state.
		fresh, gerr := s.repomanager.Jobs(s.db).Get(ctx, job.ID)
		if gerr != nil {
			return gerr
		}
		if fresh.Status == from {
			return err
		}
		return s.transition(ctx, fresh, to, message)
	}
	if err != nil {
		return err
	}

	s.log.Info(ctx, "job status changed", "job_id", job.ID, "client_id", job.ClientID, "from", from, "to", to)
	return nil
}

func allowedTransition(from, to protocol.JobStatus) bool {
	switch from {
	case protocol.StatusPending:
		return to == protocol.StatusPrinting || to.Terminal()
	case protocol.StatusPrinting:
		return to.Terminal()
	}
	return false
}
