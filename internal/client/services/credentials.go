// Package services contains application services of the print client.
// This file keeps the client's identity and bearer token sealed at rest.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/cryptox"
	"github.com/dmitrijs2005/printrelay/internal/dbx"
	"github.com/dmitrijs2005/printrelay/internal/shared"
)

const (
	keySalt        = "salt"
	keyVerifier    = "verifier"
	keyCredentials = "credentials"
	keyNonce       = "credentials_nonce"
)

// CredentialsService stores and unlocks the client's credentials.
//
// Save seals the client id and token with a key derived from passphrase.
// Load returns common.ErrNoCredentials when nothing was saved and
// common.ErrorUnauthorized when the passphrase does not match.
type CredentialsService interface {
	Save(ctx context.Context, creds models.Credentials, passphrase []byte) error
	Load(ctx context.Context, passphrase []byte) (*models.Credentials, error)
	Clear(ctx context.Context) error
}

type credentialsService struct {
	db *sql.DB
}

func NewCredentialsService(db *sql.DB) CredentialsService {
	return &credentialsService{db: db}
}

func (s *credentialsService) Save(ctx context.Context, creds models.Credentials, passphrase []byte) error {
	if creds.ClientID == "" || creds.Token == "" {
		return fmt.Errorf("client id and token are required")
	}

	salt := shared.GenerateRandByteArray(32)
	key := cryptox.DeriveMasterKey(passphrase, salt)
	defer shared.WipeByteArray(key)

	ciphertext, nonce, err := cryptox.EncryptJSON(creds, key)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		for k, v := range map[string][]byte{
			keySalt:        salt,
			keyVerifier:    cryptox.MakeVerifier(key),
			keyCredentials: ciphertext,
			keyNonce:       nonce,
		} {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *credentialsService) Load(ctx context.Context, passphrase []byte) (*models.Credentials, error) {
	values, err := metadata.NewSQLiteRepository(s.db).List(ctx)
	if err != nil {
		return nil, err
	}

	salt, verifier := values[keySalt], values[keyVerifier]
	ciphertext, nonce := values[keyCredentials], values[keyNonce]
	if salt == nil || verifier == nil || ciphertext == nil || nonce == nil {
		return nil, common.ErrNoCredentials
	}

	key := cryptox.DeriveMasterKey(passphrase, salt)
	defer shared.WipeByteArray(key)

	if subtle.ConstantTimeCompare(verifier, cryptox.MakeVerifier(key)) == 0 {
		return nil, common.ErrorUnauthorized
	}

	var creds models.Credentials
	if err := cryptox.DecryptJSON(ciphertext, nonce, key, &creds); err != nil {
		return nil, errors.Join(common.ErrorUnauthorized, err)
	}
	return &creds, nil
}

// Clear removes the stored credentials, e.g. before provisioning a new
// client identity.
func (s *credentialsService) Clear(ctx context.Context) error {
	return metadata.NewSQLiteRepository(s.db).Clear(ctx)
}
