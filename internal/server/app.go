// Package server wires the relay: storage, job records, the client status
// cache, the connection registry, the processing pool and the three
// listeners (HTTP API, print-client WebSocket endpoint, gRPC health).
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/observability"
	"github.com/dmitrijs2005/printrelay/internal/server/cleanup"
	"github.com/dmitrijs2005/printrelay/internal/server/clientstatus"
	"github.com/dmitrijs2005/printrelay/internal/server/config"
	"github.com/dmitrijs2005/printrelay/internal/server/httpapi"
	"github.com/dmitrijs2005/printrelay/internal/server/registry"
	"github.com/dmitrijs2005/printrelay/internal/server/render"
	"github.com/dmitrijs2005/printrelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/printrelay/internal/server/services"
	"github.com/dmitrijs2005/printrelay/internal/server/session"
	"github.com/dmitrijs2005/printrelay/internal/server/storage"
	"github.com/dmitrijs2005/printrelay/internal/server/transfer"
	"github.com/dmitrijs2005/printrelay/internal/server/workerpool"
	"github.com/dmitrijs2005/printrelay/internal/server/ws"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"gocloud.dev/blob"

	gs "github.com/dmitrijs2005/printrelay/internal/server/grpc"
)

// statusBuffer bounds registry events waiting for the status store.
const statusBuffer = 256

type App struct {
	config *config.Config
	logger logging.Logger

	bucket   *blob.Bucket
	db       *sql.DB
	rdb      *redis.Client
	shutdown observability.ShutdownFunc

	registry *registry.Registry
	sessions *session.Store
	pool     *workerpool.Pool
	tracker  *clientstatus.Tracker
	janitor  *cleanup.Janitor

	wsServer   *ws.Server
	httpApp    *fiber.App
	grpcServer *gs.GRPCServer
}

// NewLogger returns the JSON stdout logger at the configured level.
func NewLogger(level string) logging.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return logging.NewJSONLogger(l)
}

func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	app := &App{config: c, logger: NewLogger(c.LogLevel)}
	defer func() {
		if err != nil {
			app.close(context.Background())
		}
	}()

	app.shutdown, err = observability.InitTracing("printrelay-server", c.TraceExporter, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("tracing init error: %w", err)
	}

	app.bucket, err = storage.Open(ctx, storage.Config{
		URL:        c.StorageURL,
		S3User:     c.S3User,
		S3Password: c.S3Password,
		S3Region:   c.S3Region,
		S3Endpoint: c.S3Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	rm := repomanager.NewInMemoryRepositoryManager()
	if c.DatabaseDSN != "" {
		app.db, err = repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		rm = repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, app.db); err != nil {
			return nil, fmt.Errorf("migrations error: %w", err)
		}
	}

	var store clientstatus.Store = clientstatus.NewMemoryStore(clientstatus.DefaultTTL)
	if c.RedisAddr != "" {
		app.rdb, err = clientstatus.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		store = clientstatus.NewRedisStore(app.rdb, clientstatus.DefaultTTL)
	}
	app.tracker = clientstatus.NewTracker(store, statusBuffer, app.logger)

	app.registry = registry.New(app.logger)
	app.registry.Subscribe(app.tracker)

	app.sessions = session.NewStore(c.SessionTimeout, services.SessionCleanup(app.bucket), app.logger)

	renderer := render.NewRenderer(app.bucket, render.NewPDFEngine(c.GhostscriptBinary), "")
	app.pool = workerpool.New(c.Workers, renderer, app.logger)

	sender := transfer.NewSender(app.registry, c.ChunkSize, c.SendTimeout, app.logger)

	jobs := services.NewJobService(app.db, rm, app.logger)
	pipeline := services.NewPipelineService(app.sessions, app.bucket, app.pool, renderer, sender, app.registry, jobs, c.MaxUploadSize, app.logger)
	clients := services.NewClientService(app.registry, store, app.logger)

	app.wsServer = ws.NewServer(ws.Config{
		Secret:    []byte(c.SecretKey),
		AuthGrace: c.AuthGrace,
	}, app.registry, jobs, app.tracker, app.logger)

	bodyLimit := int(c.MaxUploadSize) * 4
	app.httpApp = httpapi.NewApp(httpapi.NewHandler(pipeline, clients, jobs, app.logger), bodyLimit)

	app.grpcServer = gs.NewGRPCServer(c.GRPCAddr, app.logger, c.SecretKey)
	app.janitor = cleanup.NewJanitor(app.bucket, app.sessions, c.CleanupMaxAge, app.logger)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// start runs fn in the group; a listener failing cancels everything.
func (app *App) start(ctx context.Context, wg *sync.WaitGroup, cancelFunc context.CancelFunc, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil {
			app.logger.Error(ctx, "component failed", "component", name, "error", err)
			cancelFunc()
		}
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	app.start(ctx, &wg, cancelFunc, "tracker", func(ctx context.Context) error {
		app.tracker.Run(ctx)
		return nil
	})
	app.start(ctx, &wg, cancelFunc, "registry", func(ctx context.Context) error {
		app.registry.Run(ctx, app.config.LivenessInterval)
		return nil
	})
	app.start(ctx, &wg, cancelFunc, "sessions", func(ctx context.Context) error {
		app.sessions.Run(ctx, app.config.SessionSweepInterval)
		return nil
	})
	app.start(ctx, &wg, cancelFunc, "janitor", func(ctx context.Context) error {
		return app.janitor.Run(ctx, app.config.CleanupSchedule)
	})
	app.start(ctx, &wg, cancelFunc, "websocket", func(ctx context.Context) error {
		return app.wsServer.Run(ctx, app.config.WebSocketAddr)
	})
	app.start(ctx, &wg, cancelFunc, "http", func(ctx context.Context) error {
		return httpapi.Run(ctx, app.httpApp, app.config.HTTPAddr, app.logger)
	})
	app.start(ctx, &wg, cancelFunc, "grpc", app.grpcServer.Run)

	for _, name := range []string{gs.ServiceRelay, gs.ServiceWebSocket, gs.ServiceHTTP, gs.ServiceStorage} {
		app.grpcServer.SetServing(name, true)
	}

	wg.Wait()

	app.logger.Info(context.Background(), "Stopping app...")
	app.close(context.Background())
}

// close releases everything NewApp opened. Safe on a partially built App.
func (app *App) close(ctx context.Context) {
	if app.pool != nil {
		app.pool.Close()
	}
	if app.bucket != nil {
		if err := app.bucket.Close(); err != nil {
			app.logger.Error(ctx, "bucket close failed", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close failed", "error", err)
		}
	}
	if app.rdb != nil {
		if err := app.rdb.Close(); err != nil {
			app.logger.Error(ctx, "redis close failed", "error", err)
		}
	}
	if app.shutdown != nil {
		if err := app.shutdown(ctx); err != nil {
			app.logger.Error(ctx, "tracing shutdown failed", "error", err)
		}
	}
}
