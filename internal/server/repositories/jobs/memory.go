package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/models"
)

// MemoryRepository keeps job records in process memory. Records are lost
// on restart.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.PrintJob
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]models.PrintJob), now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, job *models.PrintJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	now := r.now()
	job.CreatedAt, job.UpdatedAt = now, now
	r.jobs[job.ID] = *job
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.PrintJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &job, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, from, to protocol.JobStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != from {
		return common.ErrInvalidStatusTransition
	}
	job.Status = to
	job.Message = message
	job.UpdatedAt = r.now()
	r.jobs[id] = job
	return nil
}

func (r *MemoryRepository) ListByClient(_ context.Context, clientID string, limit int) ([]*models.PrintJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.PrintJob
	for _, job := range r.jobs {
		if job.ClientID == clientID {
			j := job
			result = append(result, &j)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID > result[k].ID
		}
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
