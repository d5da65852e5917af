package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/printrelay/internal/dbx"
	"github.com/dmitrijs2005/printrelay/internal/server/repositories/jobs"
)

// RepositoryManager vends repositories bound to a DBTX and runs schema
// migrations for its backend.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Jobs(db dbx.DBTX) jobs.Repository
}
