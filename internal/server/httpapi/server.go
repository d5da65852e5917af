package httpapi

import (
	"context"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp builds the fiber application with all routes registered.
func NewApp(h *Handler, bodyLimit int) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		// Handlers pass params and form values on to the session store.
		Immutable: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{ExposeHeaders: SessionHeader}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/upload", h.Upload)
	api.Post("/process", h.Process)
	api.Post("/finalize", h.Finalize)
	api.Get("/sessions/:sid", h.GetSession)
	api.Delete("/sessions/:sid/files/:filename", h.DeleteFile)
	api.Get("/sessions/:sid/files/:filename/pages", h.PageCount)

	api.Get("/clients", h.ListClients)
	api.Get("/clients/:id/status", h.ClientStatus)
	api.Post("/clients/:id/printers", h.RefreshPrinters)
	api.Get("/clients/:id/jobs", h.ClientJobs)
	api.Get("/jobs/:jobId", h.GetJob)
	api.Post("/jobs/:jobId/cancel", h.CancelJob)

	return app
}

// Run listens on address until ctx is done.
func Run(ctx context.Context, app *fiber.App, address string, log logging.Logger) error {
	go func() {
		<-ctx.Done()
		log.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(shutdownCtx)
	}()

	log.Info(ctx, "Starting HTTP server", "address", address)
	return app.Listen(address)
}
