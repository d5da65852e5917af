package preferences

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Preference, error) {
	query := `SELECT printer_name, color, mono, priority
		FROM printer_preferences
		ORDER BY priority DESC, printer_name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select preferences: %w", err)
	}
	defer rows.Close()

	result := []models.Preference{}
	for rows.Next() {
		var p models.Preference
		if err := rows.Scan(&p.PrinterName, &p.Color, &p.Mono, &p.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		result = append(result, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, printerName string) (*models.Preference, error) {
	query := `SELECT printer_name, color, mono, priority
		FROM printer_preferences WHERE printer_name = ?`

	p := &models.Preference{}
	err := r.db.QueryRowContext(ctx, query, printerName).Scan(&p.PrinterName, &p.Color, &p.Mono, &p.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preference %s: %w", printerName, err)
	}
	return p, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, p models.Preference) error {
	if strings.TrimSpace(p.PrinterName) == "" {
		return fmt.Errorf("printer name is required")
	}

	query := `INSERT INTO printer_preferences (printer_name, color, mono, priority, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(printer_name) DO UPDATE SET
			color = excluded.color,
			mono = excluded.mono,
			priority = excluded.priority,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := r.db.ExecContext(ctx, query, p.PrinterName, p.Color, p.Mono, p.Priority); err != nil {
		return fmt.Errorf("failed to save preference %s: %w", p.PrinterName, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, printerName string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM printer_preferences WHERE printer_name = ?`, printerName)
	if err != nil {
		return fmt.Errorf("failed to delete preference %s: %w", printerName, err)
	}
	return dbx.AffectedOne(res, common.ErrorNotFound)
}
