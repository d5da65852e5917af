// Package services contains server-side business logic: the print pipeline
// (upload, process, finalize), job records and client control.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/observability"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/server/models"
	"github.com/dmitrijs2005/printrelay/internal/server/session"
	"github.com/dmitrijs2005/printrelay/internal/server/storage"
	"github.com/dmitrijs2005/printrelay/internal/server/transfer"
	"github.com/dmitrijs2005/printrelay/internal/server/workerpool"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxUploadSize = 10 << 20

// allowedTypes maps accepted MIME types to the extensions that may carry them.
var allowedTypes = map[string][]string{
	"application/pdf": {".pdf"},
	"image/jpeg":      {".jpg", ".jpeg"},
	"image/png":       {".png"},
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9.-]`)

// Processor runs transformation tasks; *workerpool.Pool implements it.
type Processor interface {
	Submit(ctx context.Context, task workerpool.Task) (workerpool.Result, error)
}

type PageCounter interface {
	PageCount(ctx context.Context, key string) (int, error)
}

// Deliverer streams an artifact to a client; *transfer.Sender implements it.
type Deliverer interface {
	Send(ctx context.Context, identity, jobID string, payload []byte, settings printsettings.Settings) error
}

type ClientLookup interface {
	IsAuthenticated(identity string) bool
}

// UploadFile is one file of an upload request.
type UploadFile struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// FileResult reports the outcome of processing one session file.
type FileResult struct {
	Filename          string `json:"filename"`
	ProcessedFilename string `json:"processedFilename,omitempty"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
}

type FinalizeRequest struct {
	SessionID string
	ClientID  string
	Settings  printsettings.Settings
}

type FinalizeResult struct {
	JobID        string `json:"jobId"`
	ArtifactName string `json:"artifactName"`
	PageCount    int    `json:"pageCount"`
}

type PipelineService struct {
	sessions  *session.Store
	bucket    *blob.Bucket
	pool      Processor
	pages     PageCounter
	sender    Deliverer
	clients   ClientLookup
	jobs      *JobService
	maxUpload int64
	tracer    trace.Tracer
	now       func() time.Time
	log       logging.Logger
}

func NewPipelineService(
	sessions *session.Store,
	bucket *blob.Bucket,
	pool Processor,
	pages PageCounter,
	sender Deliverer,
	clients ClientLookup,
	jobs *JobService,
	maxUpload int64,
	logger logging.Logger,
) *PipelineService {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadSize
	}
	return &PipelineService{
		sessions:  sessions,
		bucket:    bucket,
		pool:      pool,
		pages:     pages,
		sender:    sender,
		clients:   clients,
		jobs:      jobs,
		maxUpload: maxUpload,
		tracer:    observability.Tracer("pipeline"),
		now:       time.Now,
		log:       logger.With("module", "pipeline"),
	}
}

// SanitizeFilename reduces name to its lower-cased base name with anything
// outside [a-z0-9.-] replaced by an underscore.
func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = unsafeChars.ReplaceAllString(strings.ToLower(base), "_")
	if base == "" || strings.Trim(base, ".") == "" {
		return "file"
	}
	return base
}

func mediaType(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func validateUpload(f UploadFile, max int64) (string, error) {
	mt := mediaType(f.MimeType)
	exts, ok := allowedTypes[mt]
	if !ok {
		return "", fmt.Errorf("%w: %s", common.ErrUnsupportedFileType, f.MimeType)
	}
	ext := strings.ToLower(path.Ext(f.Name))
	match := false
	for _, e := range exts {
		if e == ext {
			match = true
			break
		}
	}
	if !match {
		return "", fmt.Errorf("%w: extension %q does not match %s", common.ErrUnsupportedFileType, ext, mt)
	}
	if f.Size > max {
		return "", fmt.Errorf("%w: %s", common.ErrFileTooLarge, f.Name)
	}
	return mt, nil
}

// Upload stores files in the session, creating the session when sessionID
// is empty. All files are validated before anything is stored.
func (s *PipelineService) Upload(ctx context.Context, sessionID string, files []UploadFile) (string, []session.FileEntry, error) {
	if len(files) == 0 {
		return "", nil, common.ErrNoFiles
	}

	types := make([]string, len(files))
	for i, f := range files {
		mt, err := validateUpload(f, s.maxUpload)
		if err != nil {
			return "", nil, err
		}
		types[i] = mt
	}

	if sessionID == "" {
		id, err := s.sessions.Create()
		if err != nil {
			return "", nil, err
		}
		sessionID = id
		s.log.Info(ctx, "session created", "session_id", sessionID)
	} else if !s.sessions.Exists(sessionID) {
		return "", nil, common.ErrSessionNotFound
	}

	stored := make([]session.FileEntry, 0, len(files))
	for i, f := range files {
		entry, err := s.storeFile(ctx, sessionID, f, types[i])
		if err != nil {
			return sessionID, stored, err
		}
		stored = append(stored, entry)
	}
	return sessionID, stored, nil
}

func (s *PipelineService) storeFile(ctx context.Context, sessionID string, f UploadFile, mimeType string) (session.FileEntry, error) {
	entry, err := s.sessions.ReserveFile(sessionID, session.FileEntry{
		Filename:     SanitizeFilename(f.Name),
		OriginalName: f.Name,
		SizeBytes:    f.Size,
		MimeType:     mimeType,
	}, func(name string) string { return storage.SessionKey(sessionID, name) })
	if err != nil {
		return session.FileEntry{}, err
	}

	n, err := s.write(ctx, entry.StoragePath, mimeType, f.Content)
	if err == nil && n > s.maxUpload {
		err = fmt.Errorf("%w: %s", common.ErrFileTooLarge, f.Name)
	}
	if err != nil {
		_, _, _ = s.sessions.RemoveFile(sessionID, entry.Filename)
		_ = storage.Delete(ctx, s.bucket, entry.StoragePath)
		return session.FileEntry{}, err
	}

	entry.SizeBytes = n
	_ = s.sessions.UpdateFile(sessionID, entry.Filename, func(e *session.FileEntry) { e.SizeBytes = n })

	s.log.Info(ctx, "file uploaded", "session_id", sessionID, "filename", entry.Filename, "size", n)
	return entry, nil
}

// write copies at most maxUpload+1 bytes of r to key and returns how many
// bytes it copied.
func (s *PipelineService) write(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", key, err)
	}
	n, err := io.Copy(w, io.LimitReader(r, s.maxUpload+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ProcessFiles renders every file of the session for printing with the
// given settings. One failing file does not stop the others; its result
// carries the reason.
func (s *PipelineService) ProcessFiles(ctx context.Context, sessionID string, settings printsettings.Settings) ([]FileResult, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	settings = settings.WithDefaults()

	snap, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	if len(snap.Files) == 0 {
		return nil, common.ErrNoFiles
	}

	results := make([]FileResult, len(snap.Files))
	stamp := s.now().UnixMilli()

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range snap.Files {
		g.Go(func() error {
			processed := processedName(stamp, i, f.Filename)
			task := workerpool.Task{
				Kind:     kindFor(f.MimeType),
				Inputs:   []string{f.StoragePath},
				Output:   storage.SessionKey(sessionID, processed),
				Settings: settings,
			}

			res, err := s.pool.Submit(gctx, task)
			if err != nil {
				return err
			}

			results[i] = FileResult{Filename: f.Filename}
			if !res.Success {
				s.log.Warn(ctx, "file processing failed", "session_id", sessionID, "filename", f.Filename, "error", res.Err)
				results[i].Error = reason(res.Err)
				return nil
			}

			if err := s.sessions.SetProcessed(sessionID, f.Filename, processed); err != nil {
				// Removed while processing; its derivative is no longer wanted.
				_ = storage.Delete(ctx, s.bucket, task.Output)
				results[i].Error = err.Error()
				return nil
			}
			if f.ProcessedFilename != "" && f.ProcessedFilename != processed {
				_ = storage.Delete(ctx, s.bucket, storage.SessionKey(sessionID, f.ProcessedFilename))
			}
			results[i].Success = true
			results[i].ProcessedFilename = processed
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// processedName names the derivative of the idx-th session file. The index
// keeps names apart when several files share a base name, e.g. doc.pdf and
// doc.jpg.
func processedName(stamp int64, idx int, filename string) string {
	return fmt.Sprintf("processed-%d-%d-%s.pdf", stamp, idx, strings.ReplaceAll(filename, ".", "-"))
}

// mergedName names a session's merged artifact. Artifacts share one
// namespace, so the session id is part of the name.
func mergedName(sessionID string, at time.Time) string {
	return fmt.Sprintf("merged-%s-%d.pdf", sessionID, at.UnixMilli())
}

func kindFor(mimeType string) workerpool.Kind {
	if strings.HasPrefix(mimeType, "image/") {
		return workerpool.KindRasterizeImage
	}
	return workerpool.KindRasterizePDF
}

// reason turns an internal error into the text shown to users.
func reason(err error) string {
	if err == nil {
		return "processing failed"
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

// Finalize merges the processed files of a session into one artifact,
// delivers it to the client and drops the session. Nothing is written
// before the settings, the session and the target client have been checked.
func (s *PipelineService) Finalize(ctx context.Context, req FinalizeRequest) (res FinalizeResult, err error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "pipeline.finalize", "client.id", req.ClientID)
	defer func() { observability.EndSpan(span, err) }()

	if err := req.Settings.Validate(); err != nil {
		return res, err
	}
	settings := req.Settings.WithDefaults()

	snap, ok := s.sessions.Get(req.SessionID)
	if !ok {
		return res, common.ErrSessionNotFound
	}
	if len(snap.Files) == 0 {
		return res, common.ErrNoFiles
	}
	if !s.clients.IsAuthenticated(req.ClientID) {
		return res, common.ErrNoAuthenticatedClient
	}

	inputs := make([]string, len(snap.Files))
	for i, f := range snap.Files {
		if f.ProcessedFilename == "" {
			return res, fmt.Errorf("%w: %s", common.ErrFileNotProcessed, f.Filename)
		}
		inputs[i] = storage.SessionKey(req.SessionID, f.ProcessedFilename)
	}

	name := mergedName(req.SessionID, s.now())
	key := storage.ArtifactKey(name)

	kind := workerpool.KindMerge
	if settings.PagesPerSheet > 1 {
		kind = workerpool.KindMergeAndLayout
	}
	out, err := s.pool.Submit(ctx, workerpool.Task{Kind: kind, Inputs: inputs, Output: key, Settings: settings})
	if err != nil {
		return res, err
	}
	if !out.Success {
		return res, fmt.Errorf("merge failed: %w", out.Err)
	}

	if err := s.sessions.SetMergedArtifact(req.SessionID, name); err != nil {
		return res, err
	}

	pages, err := s.pages.PageCount(ctx, key)
	if err != nil {
		s.log.Warn(ctx, "page count unavailable", "artifact", key, "error", err)
	}

	jobID, err := s.FinalizeJob(ctx, req.ClientID, key, settings, pages)
	if err != nil {
		return res, err
	}

	if err := s.sessions.Remove(ctx, req.SessionID); err != nil {
		s.log.Warn(ctx, "session cleanup failed", "session_id", req.SessionID, "error", err)
	}

	return FinalizeResult{JobID: jobID, ArtifactName: name, PageCount: pages}, nil
}

// FinalizeJob records a pending job for the artifact under artifactKey and
// streams it to clientID. A failed delivery marks the job failed.
func (s *PipelineService) FinalizeJob(ctx context.Context, clientID, artifactKey string, settings printsettings.Settings, pages int) (string, error) {
	if !s.clients.IsAuthenticated(clientID) {
		return "", common.ErrNoAuthenticatedClient
	}

	payload, err := s.bucket.ReadAll(ctx, artifactKey)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", artifactKey, err)
	}

	jobID := transfer.NewJobID()
	job := &models.PrintJob{
		ID:          jobID,
		ClientID:    clientID,
		ArtifactKey: artifactKey,
		Settings:    settings,
		PageCount:   pages,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", err
	}

	if err := s.sender.Send(ctx, clientID, jobID, payload, settings); err != nil {
		msg := "delivery failed"
		if errors.Is(err, common.ErrSendTimeout) {
			msg = "delivery timed out"
		}
		if merr := s.jobs.MarkFailed(context.WithoutCancel(ctx), jobID, msg); merr != nil {
			s.log.Error(ctx, "could not mark job failed", "job_id", jobID, "error", merr)
		}
		return jobID, err
	}

	s.log.Info(ctx, "job delivered", "job_id", jobID, "client_id", clientID, "pages", pages)
	return jobID, nil
}

// DeleteFile removes a file and its derivative. A session left without
// files is removed as well. It returns the number of files left.
func (s *PipelineService) DeleteFile(ctx context.Context, sessionID, filename string) (int, error) {
	entry, remaining, err := s.sessions.RemoveFile(sessionID, filename)
	if err != nil {
		return remaining, err
	}

	keys := []string{entry.StoragePath}
	if entry.ProcessedFilename != "" {
		keys = append(keys, storage.SessionKey(sessionID, entry.ProcessedFilename))
	}
	if err := storage.Delete(ctx, s.bucket, keys...); err != nil {
		s.log.Warn(ctx, "file delete failed", "session_id", sessionID, "filename", filename, "error", err)
	}

	if remaining == 0 {
		if err := s.sessions.Remove(ctx, sessionID); err != nil {
			s.log.Warn(ctx, "session cleanup failed", "session_id", sessionID, "error", err)
		}
	}
	return remaining, nil
}

// PageCount returns the page count of a session file, preferring its
// processed derivative. Images count as one page.
func (s *PipelineService) PageCount(ctx context.Context, sessionID, filename string) (int, error) {
	snap, ok := s.sessions.Get(sessionID)
	if !ok {
		return 0, common.ErrSessionNotFound
	}
	for _, f := range snap.Files {
		if f.Filename != filename {
			continue
		}
		switch {
		case f.ProcessedFilename != "":
			return s.pages.PageCount(ctx, storage.SessionKey(sessionID, f.ProcessedFilename))
		case strings.HasPrefix(f.MimeType, "image/"):
			return 1, nil
		default:
			return s.pages.PageCount(ctx, f.StoragePath)
		}
	}
	return 0, common.ErrFileNotFound
}

func (s *PipelineService) Session(sessionID string) (session.Session, error) {
	snap, ok := s.sessions.Get(sessionID)
	if !ok {
		return session.Session{}, common.ErrSessionNotFound
	}
	if err := s.sessions.Touch(sessionID); err != nil {
		return session.Session{}, err
	}
	return snap, nil
}

// SessionCleanup returns a session.CleanupFunc deleting a session's uploads
// and their derivatives. Merged artifacts stay: job records point at them.
func SessionCleanup(bucket *blob.Bucket) session.CleanupFunc {
	return func(ctx context.Context, sess session.Session) error {
		keys := make([]string, 0, 2*len(sess.Files))
		for _, f := range sess.Files {
			keys = append(keys, f.StoragePath)
			if f.ProcessedFilename != "" {
				keys = append(keys, storage.SessionKey(sess.ID, f.ProcessedFilename))
			}
		}
		return storage.Delete(ctx, bucket, keys...)
	}
}
