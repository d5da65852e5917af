package preferences

import (
	"context"

	"github.com/dmitrijs2005/printrelay/internal/client/models"
)

// Repository stores printer preferences keyed by printer name.
type Repository interface {
	// List returns entries by descending priority, then by name.
	List(ctx context.Context) ([]models.Preference, error)
	Get(ctx context.Context, printerName string) (*models.Preference, error)
	Upsert(ctx context.Context, p models.Preference) error
	// Delete returns common.ErrorNotFound when the printer has no entry.
	Delete(ctx context.Context, printerName string) error
}
