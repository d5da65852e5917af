package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/client/repositories/preferences"
	"github.com/dmitrijs2005/printrelay/internal/dbx"
)

// PreferenceService manages the ranked printer list used by the scheduler.
type PreferenceService interface {
	List(ctx context.Context) ([]models.Preference, error)
	Set(ctx context.Context, p models.Preference) error
	Remove(ctx context.Context, printerName string) error
	// Import upserts every entry of a YAML seed file in one transaction and
	// returns how many were written.
	Import(ctx context.Context, r io.Reader) (int, error)
}

type preferenceService struct {
	db *sql.DB
}

func NewPreferenceService(db *sql.DB) PreferenceService {
	return &preferenceService{db: db}
}

func (s *preferenceService) repo() preferences.Repository {
	return preferences.NewSQLiteRepository(s.db)
}

func (s *preferenceService) List(ctx context.Context) ([]models.Preference, error) {
	return s.repo().List(ctx)
}

func (s *preferenceService) Set(ctx context.Context, p models.Preference) error {
	if !p.Color && !p.Mono {
		return fmt.Errorf("printer %s must support color or mono", p.PrinterName)
	}
	return s.repo().Upsert(ctx, p)
}

func (s *preferenceService) Remove(ctx context.Context, printerName string) error {
	return s.repo().Delete(ctx, printerName)
}

func (s *preferenceService) Import(ctx context.Context, r io.Reader) (int, error) {
	list, err := preferences.ParseYAML(r)
	if err != nil {
		return 0, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := preferences.NewSQLiteRepository(tx)
		for _, p := range list {
			if err := repo.Upsert(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(list), nil
}
