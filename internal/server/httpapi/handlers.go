// Package httpapi exposes the print pipeline over HTTP with fiber: upload,
// process, finalize and session inspection for the browser, plus client
// status and job lookups for operators.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/server/clientstatus"
	"github.com/dmitrijs2005/printrelay/internal/server/models"
	"github.com/dmitrijs2005/printrelay/internal/server/services"
	"github.com/dmitrijs2005/printrelay/internal/server/session"
	"github.com/gofiber/fiber/v2"
)

const SessionHeader = "X-Session-ID"

type Pipeline interface {
	Upload(ctx context.Context, sessionID string, files []services.UploadFile) (string, []session.FileEntry, error)
	ProcessFiles(ctx context.Context, sessionID string, settings printsettings.Settings) ([]services.FileResult, error)
	Finalize(ctx context.Context, req services.FinalizeRequest) (services.FinalizeResult, error)
	DeleteFile(ctx context.Context, sessionID, filename string) (int, error)
	PageCount(ctx context.Context, sessionID, filename string) (int, error)
	Session(sessionID string) (session.Session, error)
}

type Clients interface {
	Status(ctx context.Context, clientID string) (clientstatus.Status, error)
	Online() []string
	RequestPrinters(ctx context.Context, clientID string) error
	CancelJob(ctx context.Context, clientID, jobID string) error
}

type Jobs interface {
	Get(ctx context.Context, id string) (*models.PrintJob, error)
	List(ctx context.Context, clientID string, limit int) ([]*models.PrintJob, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type processRequest struct {
	SessionID string                 `json:"sessionId"`
	Settings  printsettings.Settings `json:"settings"`
}

type finalizeRequest struct {
	SessionID string                 `json:"sessionId"`
	ClientID  string                 `json:"clientId"`
	Settings  printsettings.Settings `json:"settings"`
}

type Handler struct {
	pipeline Pipeline
	clients  Clients
	jobs     Jobs
	log      logging.Logger
}

func NewHandler(p Pipeline, c Clients, j Jobs, logger logging.Logger) *Handler {
	return &Handler{pipeline: p, clients: c, jobs: j, log: logger.With("module", "http_api")}
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrSessionNotFound),
		errors.Is(err, common.ErrFileNotFound),
		errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidSettings),
		errors.Is(err, common.ErrUnsupportedFileType),
		errors.Is(err, common.ErrFileNotProcessed),
		errors.Is(err, common.ErrNoFiles):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrNoAuthenticatedClient):
		return http.StatusConflict
	case errors.Is(err, common.ErrSendTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.log.Error(c.UserContext(), "request failed", "path", c.Path(), "error", err)
		msg = http.StatusText(code)
	}
	return c.Status(code).JSON(ErrorResponse{Error: msg})
}

func sessionID(c *fiber.Ctx) string {
	if id := c.FormValue("sessionId"); id != "" {
		return id
	}
	return c.Get(SessionHeader)
}

func (h *Handler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Error: "multipart form expected"})
	}

	headers := form.File["files"]
	files := make([]services.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return h.fail(c, err)
		}
		defer f.Close()
		files = append(files, services.UploadFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get(fiber.HeaderContentType),
			Size:     fh.Size,
			Content:  f,
		})
	}

	sid, entries, err := h.pipeline.Upload(c.UserContext(), sessionID(c), files)
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(SessionHeader, sid)
	return c.Status(http.StatusCreated).JSON(fiber.Map{"sessionId": sid, "files": entries})
}

func (h *Handler) Process(c *fiber.Ctx) error {
	var req processRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.SessionID == "" {
		req.SessionID = c.Get(SessionHeader)
	}

	results, err := h.pipeline.ProcessFiles(c.UserContext(), req.SessionID, req.Settings)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"sessionId": req.SessionID, "results": results})
}

func (h *Handler) Finalize(c *fiber.Ctx) error {
	var req finalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.SessionID == "" {
		req.SessionID = c.Get(SessionHeader)
	}
	if req.ClientID == "" {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Error: "clientId is required"})
	}

	res, err := h.pipeline.Finalize(c.UserContext(), services.FinalizeRequest{
		SessionID: req.SessionID,
		ClientID:  req.ClientID,
		Settings:  req.Settings,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) GetSession(c *fiber.Ctx) error {
	s, err := h.pipeline.Session(c.Params("sid"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(s)
}

func (h *Handler) DeleteFile(c *fiber.Ctx) error {
	remaining, err := h.pipeline.DeleteFile(c.UserContext(), c.Params("sid"), c.Params("filename"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"remaining": remaining})
}

func (h *Handler) PageCount(c *fiber.Ctx) error {
	n, err := h.pipeline.PageCount(c.UserContext(), c.Params("sid"), c.Params("filename"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"pages": n})
}

func (h *Handler) ListClients(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"clients": h.clients.Online()})
}

func (h *Handler) ClientStatus(c *fiber.Ctx) error {
	st, err := h.clients.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(st)
}

func (h *Handler) RefreshPrinters(c *fiber.Ctx) error {
	if err := h.clients.RequestPrinters(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(http.StatusAccepted)
}

func (h *Handler) CancelJob(c *fiber.Ctx) error {
	ctx := c.UserContext()
	job, err := h.jobs.Get(ctx, c.Params("jobId"))
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.clients.CancelJob(ctx, job.ClientID, job.ID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(http.StatusAccepted)
}

func (h *Handler) GetJob(c *fiber.Ctx) error {
	job, err := h.jobs.Get(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(job)
}

func (h *Handler) ClientJobs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	list, err := h.jobs.List(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return h.fail(c, err)
	}
	if list == nil {
		list = []*models.PrintJob{}
	}
	return c.JSON(fiber.Map{"jobs": list})
}
