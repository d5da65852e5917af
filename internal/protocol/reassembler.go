package protocol

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
)

// DefaultReassemblyTTL bounds how long a transfer may stay incomplete,
// counted from its first chunk.
const DefaultReassemblyTTL = 60 * time.Second

// Artifact is a fully reassembled transfer.
type Artifact struct {
	JobID    string
	Payload  []byte
	Settings printsettings.Settings
}

type buffer struct {
	chunks   [][]byte
	received int64
	declared int64
	settings printsettings.Settings
	started  time.Time
}

// Reassembler collects frames per job id on the receiving side.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	ttl     time.Duration
	now     func() time.Time
}

func NewReassembler(ttl time.Duration) *Reassembler {
	if ttl <= 0 {
		ttl = DefaultReassemblyTTL
	}
	return &Reassembler{buffers: make(map[string]*buffer), ttl: ttl, now: time.Now}
}

// Accept consumes one print frame. It returns the artifact when f is the
// terminal frame of a complete transfer and nil otherwise. Any error
// discards the job's buffer.
func (r *Reassembler) Accept(f PrintFrame) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buffers[f.JobID]

	if f.Done {
		if !ok {
			return nil, fmt.Errorf("%w: %s", common.ErrUnknownJob, f.JobID)
		}
		delete(r.buffers, f.JobID)

		if b.received != b.declared {
			return nil, fmt.Errorf("%w: job %s got %d of %d bytes", common.ErrTransferIncomplete, f.JobID, b.received, b.declared)
		}

		return &Artifact{JobID: f.JobID, Payload: bytes.Join(b.chunks, nil), Settings: f.Settings}, nil
	}

	data, err := base64.StdEncoding.DecodeString(f.Chunk)
	if err != nil {
		delete(r.buffers, f.JobID)
		return nil, fmt.Errorf("decode chunk of job %s: %w", f.JobID, err)
	}

	if !ok {
		b = &buffer{started: r.now(), settings: f.Settings}
		r.buffers[f.JobID] = b
	}

	if f.Offset != b.received {
		delete(r.buffers, f.JobID)
		return nil, fmt.Errorf("%w: job %s expected offset %d, got %d", common.ErrFrameOutOfOrder, f.JobID, b.received, f.Offset)
	}

	b.chunks = append(b.chunks, data)
	b.received += int64(len(data))
	b.declared = f.Total

	return nil, nil
}

// Reap drops buffers older than the TTL and returns their job ids.
func (r *Reassembler) Reap() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var dropped []string
	for id, b := range r.buffers {
		if now.Sub(b.started) > r.ttl {
			delete(r.buffers, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// Pending returns the number of open buffers.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// Has reports whether a buffer for jobID is open.
func (r *Reassembler) Has(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buffers[jobID]
	return ok
}

// RunReaper calls Reap every interval until ctx is done. onReap receives
// the dropped job ids and may be nil.
func (r *Reassembler) RunReaper(ctx context.Context, interval time.Duration, onReap func([]string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if dropped := r.Reap(); len(dropped) > 0 && onReap != nil {
				onReap(dropped)
			}
		case <-ctx.Done():
			return
		}
	}
}
