package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/client/client"
	"github.com/dmitrijs2005/printrelay/internal/client/config"
	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/client/printers"
	"github.com/dmitrijs2005/printrelay/internal/client/services"
	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/filex"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/shared"

	_ "modernc.org/sqlite"
)

const dbFileName = "client.db"

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

type App struct {
	config     *config.Config
	log        logging.Logger
	closeDB    func() error
	creds      services.CredentialsService
	prefs      services.PreferenceService
	provider   printers.Provider
	dispatcher printers.Dispatcher

	credentials *models.Credentials
	health      client.Client
	Mode        Mode

	mu    sync.Mutex
	agent *agent

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the local database under cfg.DataDir and wires the printer
// tooling. Nothing touches the network until credentials are unlocked.
func NewApp(c *config.Config, logger logging.Logger) (*App, error) {
	ctx := context.Background()

	dir, err := filex.EnsureSubdDir(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	db, err := client.InitDatabase(ctx, filepath.Join(dir, dbFileName))
	if err != nil {
		log.Printf("error initializing database: %s", err.Error())
		return nil, err
	}

	c.DataDir = dir

	return &App{
		config:     c,
		log:        logger,
		closeDB:    db.Close,
		creds:      services.NewCredentialsService(db),
		prefs:      services.NewPreferenceService(db),
		provider:   printers.NewCachedProvider(printers.NewCUPSProvider(c.LPStatBinary, logger), c.StatusCacheTTL),
		dispatcher: printers.NewLPDispatcher(c.LPBinary),
		reader:     bufio.NewReader(os.Stdin),
		out:        os.Stdout,
	}, nil
}

func (app *App) setMode(mode Mode) {
	if app.Mode != mode {
		app.Mode = mode
		log.Printf("Switched to %s mode\n", mode)
	}
}

// Close stops a running agent and releases the database.
func (a *App) Close() {
	a.stopAgent()
	a.setHealth(nil)
	if a.closeDB != nil {
		_ = a.closeDB()
	}
}

func (a *App) healthClient() client.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// setHealth replaces the health client, closing the previous one.
func (a *App) setHealth(h client.Client) {
	a.mu.Lock()
	old := a.health
	a.health = h
	a.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (a *App) isUnlocked() bool {
	return a.credentials != nil
}

// passphrase returns the configured passphrase or prompts for one.
func (a *App) passphrase() ([]byte, error) {
	if a.config.Passphrase != "" {
		return []byte(a.config.Passphrase), nil
	}
	return GetPassword(a.out)
}

// Unlock decrypts the stored credentials and opens the health client.
func (a *App) Unlock(ctx context.Context) error {
	if a.isUnlocked() {
		return nil
	}

	pw, err := a.passphrase()
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(pw)

	creds, err := a.creds.Load(ctx, pw)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNoCredentials):
			fmt.Fprintln(a.out, "No credentials stored, use: login <client-id> <token>")
		case errors.Is(err, common.ErrorUnauthorized):
			fmt.Fprintln(a.out, "Wrong passphrase")
		}
		return err
	}

	health, err := client.NewGRPCClient(a.config.ServerEndpointAddr, creds.Token)
	if err != nil {
		return err
	}

	a.credentials = creds
	a.setHealth(health)
	a.log = a.log.With("client_id", creds.ClientID)
	return nil
}

// Login stores a client id and token sealed with the passphrase.
func (a *App) Login(ctx context.Context, args []string) error {
	var clientID, token string
	var err error

	if len(args) >= 2 {
		clientID, token = args[0], args[1]
	} else {
		if clientID, err = GetSimpleText(a.reader, "Client id", a.out); err != nil {
			return err
		}
		if token, err = GetSimpleText(a.reader, "Access token", a.out); err != nil {
			return err
		}
	}
	if clientID == "" || token == "" {
		fmt.Fprintln(a.out, "Usage: login <client-id> <token>")
		return common.ErrorUnauthorized
	}

	pw, err := a.passphrase()
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(pw)

	creds := models.Credentials{ClientID: clientID, Token: token}
	if err := a.creds.Save(ctx, creds, pw); err != nil {
		log.Printf("error saving credentials: %v", err)
		return err
	}

	a.setHealth(nil)
	a.credentials = nil
	fmt.Fprintln(a.out, "Credentials saved")
	return nil
}

// Logout forgets the stored credentials.
func (a *App) Logout(ctx context.Context) error {
	a.stopAgent()
	if err := a.creds.Clear(ctx); err != nil {
		return err
	}
	a.credentials = nil
	fmt.Fprintln(a.out, "Credentials removed")
	return nil
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h := a.healthClient()
			if h == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := h.Ping(ctx)
			cancel()

			if err != nil {
				if a.Mode == ModeOnline {
					a.setMode(ModeOffline)
				}
			} else {
				if a.Mode != ModeOnline {
					a.setMode(ModeOnline)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
