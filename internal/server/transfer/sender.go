// Package transfer delivers a finished artifact to one authenticated print
// client as a sequence of print frames followed by a terminal done frame.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/observability"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"github.com/dmitrijs2005/printrelay/internal/server/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 30 * time.Second

// Registry resolves the connection of an authenticated identity.
type Registry interface {
	GetAuthenticated(identity string) (registry.Conn, bool)
}

type Sender struct {
	registry  Registry
	chunkSize int
	timeout   time.Duration
	logger    logging.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}

	tracer trace.Tracer
	frames metric.Int64Counter
}

// NewSender returns a Sender cutting payloads into chunkSize pieces. Sizes
// above protocol.MaxChunkSize are lowered to it so every frame stays within
// the receiver's read limit.
func NewSender(reg Registry, chunkSize int, timeout time.Duration, logger logging.Logger) *Sender {
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultChunkSize
	}
	chunkSize = min(chunkSize, protocol.MaxChunkSize)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		registry:  reg,
		chunkSize: chunkSize,
		timeout:   timeout,
		logger:    logger.With("module", "transfer_sender"),
		inflight:  make(map[string]chan struct{}),
		tracer:    observability.Tracer("transfer"),
		frames:    observability.Counter(observability.Meter("transfer"), "printrelay.transfer.frames", "Print frames written to clients"),
	}
}

// NewJobID returns a millisecond timestamp with a random suffix.
func NewJobID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

// Send streams payload to identity under jobID. It fails fast with
// common.ErrNoAuthenticatedClient when the identity has no open,
// authenticated connection, and with common.ErrSendTimeout when the whole
// transfer, including waiting for a previous transfer to the same identity,
// takes longer than the configured timeout.
func (s *Sender) Send(ctx context.Context, identity, jobID string, payload []byte, settings printsettings.Settings) (err error) {
	conn, ok := s.registry.GetAuthenticated(identity)
	if !ok || !conn.Open() {
		return common.ErrNoAuthenticatedClient
	}
	if len(payload) == 0 {
		return errors.New("empty artifact")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, s.tracer, "transfer.send", "client.id", identity, "job.id", jobID)
	defer func() { observability.EndSpan(span, err) }()

	release, err := s.acquire(ctx, identity)
	if err != nil {
		return s.wrap(ctx, err, jobID, 0, 0)
	}
	defer release()

	frames := protocol.Split(jobID, payload, s.chunkSize, settings)
	start := time.Now()

	for i, f := range frames {
		if err := conn.Send(ctx, f); err != nil {
			return s.wrap(ctx, err, jobID, i, len(frames))
		}
		s.frames.Add(ctx, 1)
		s.logger.Debug(ctx, "frame sent", "job_id", jobID, "offset", f.Offset, "total", f.Total)
	}

	if err := conn.Send(ctx, protocol.DoneFrame(jobID, int64(len(payload)), settings)); err != nil {
		return s.wrap(ctx, err, jobID, len(frames), len(frames))
	}

	s.logger.Info(ctx, "artifact delivered",
		"client_id", identity, "job_id", jobID,
		"bytes", len(payload), "frames", len(frames), "elapsed", time.Since(start))
	return nil
}

func (s *Sender) wrap(ctx context.Context, err error, jobID string, sent, total int) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Warn(ctx, "transfer timed out", "job_id", jobID, "frames_sent", sent, "frames_total", total)
		return fmt.Errorf("%w: job %s after %d of %d frames", common.ErrSendTimeout, jobID, sent, total)
	}
	s.logger.Warn(ctx, "transfer aborted", "job_id", jobID, "frames_sent", sent, "error", err)
	return fmt.Errorf("send job %s frame %d: %w", jobID, sent, err)
}

// acquire serializes transfers per identity.
func (s *Sender) acquire(ctx context.Context, identity string) (func(), error) {
	s.mu.Lock()
	slot, ok := s.inflight[identity]
	if !ok {
		slot = make(chan struct{}, 1)
		s.inflight[identity] = slot
	}
	s.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
