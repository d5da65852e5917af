package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/printrelay/internal/dbx"
	"github.com/dmitrijs2005/printrelay/internal/server/repositories/jobs"
)

// InMemoryRepositoryManager ignores the DBTX and always hands out the same
// in-memory repositories.
type InMemoryRepositoryManager struct {
	jobs *jobs.MemoryRepository
}

func NewInMemoryRepositoryManager() RepositoryManager {
	return &InMemoryRepositoryManager{jobs: jobs.NewMemoryRepository()}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Jobs(dbx.DBTX) jobs.Repository {
	return m.jobs
}
