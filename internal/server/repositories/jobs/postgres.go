// Package jobs provides repositories for print-job records: a PostgreSQL
// implementation over dbx.DBTX and an in-memory one used when no database
// is configured.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/dbx"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new job and fills CreatedAt/UpdatedAt from the database.
func (r *PostgresRepository) Create(ctx context.Context, job *models.PrintJob) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	query := `
		INSERT INTO print_jobs (id, client_id, artifact_key, settings, page_count, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		job.ID, job.ClientID, job.ArtifactKey, settings, job.PageCount, string(job.Status), job.Message,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.PrintJob, error) {
	query := `
		SELECT id, client_id, artifact_key, settings, page_count, status, message, created_at, updated_at
		FROM print_jobs WHERE id = $1
	`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to protocol.JobStatus, message string) error {
	query := `
		UPDATE print_jobs SET status = $3, message = $4, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), message)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res, common.ErrInvalidStatusTransition)
}

// ListByClient returns the newest jobs of one client first.
func (r *PostgresRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.PrintJob, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, client_id, artifact_key, settings, page_count, status, message, created_at, updated_at
		FROM print_jobs WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.PrintJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.PrintJob, error) {
	var (
		job      models.PrintJob
		settings []byte
		status   string
	)
	if err := row.Scan(
		&job.ID, &job.ClientID, &job.ArtifactKey, &settings, &job.PageCount,
		&status, &job.Message, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = protocol.JobStatus(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return &job, nil
}
