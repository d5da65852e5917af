// Package scheduler executes print jobs on the client's physical printers.
//
// Each job gets a printer when it is added (see selectPrinter) and waits in
// that printer's queue. Queues are ordered by job priority, then FIFO, and
// different printers print concurrently. A queue's goroutine exits when the
// queue is empty and is started again by the next AddJob.
//
// A job moves pending -> printing -> completed or failed. Failed jobs are not
// retried or moved to another printer.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dmitrijs2005/printrelay/internal/client/models"
	"github.com/dmitrijs2005/printrelay/internal/client/printers"
	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/filex"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/observability"
	"github.com/dmitrijs2005/printrelay/internal/printsettings"
	"github.com/dmitrijs2005/printrelay/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// PreferenceLister supplies the ranked printer preferences.
type PreferenceLister interface {
	List(ctx context.Context) ([]models.Preference, error)
}

type job struct {
	id       string
	printer  string
	path     string
	settings printsettings.Settings
	rank     int
	finished bool
}

type printerQueue struct {
	jobs    []*job
	current *job
	running bool
}

type Scheduler struct {
	prefs      PreferenceLister
	provider   printers.Provider
	dispatcher printers.Dispatcher
	observer   Observer
	spoolDir   string
	log        logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*printerQueue
	jobs   map[string]*job
	closed bool

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// New creates the spool directory and returns an idle scheduler. observer
// may be nil.
func New(spoolDir string, prefs PreferenceLister, provider printers.Provider, dispatcher printers.Dispatcher, observer Observer, logger logging.Logger) (*Scheduler, error) {
	dir, err := filex.EnsureSubdDir(spoolDir)
	if err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	if observer == nil {
		observer = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		prefs:      prefs,
		provider:   provider,
		dispatcher: dispatcher,
		observer:   observer,
		spoolDir:   dir,
		log:        logger.With("module", "scheduler"),
		ctx:        ctx,
		cancel:     cancel,
		queues:     make(map[string]*printerQueue),
		jobs:       make(map[string]*job),
		tracer:     observability.Tracer("scheduler"),
		outcomes:   observability.Counter(observability.Meter("scheduler"), "printrelay.scheduler.jobs", "Print jobs by terminal status"),
	}, nil
}

// AddJob spools the artifact, picks a printer and queues the job. It returns
// the chosen printer. When no printer can be chosen the job is reported
// failed and the error is returned.
func (s *Scheduler) AddJob(ctx context.Context, a *protocol.Artifact) (string, error) {
	s.mu.Lock()
	closed := s.closed
	_, exists := s.jobs[a.JobID]
	s.mu.Unlock()

	if closed {
		return "", common.ErrSchedulerClosed
	}
	if exists {
		return "", fmt.Errorf("%w: %s", common.ErrJobExists, a.JobID)
	}

	j := &job{
		id:       a.JobID,
		path:     filepath.Join(s.spoolDir, spoolName(a.JobID)),
		settings: a.Settings,
		rank:     a.Settings.Priority.Rank(),
	}

	if err := filex.WriteFileAtomic(j.path, a.Payload); err != nil {
		s.finish(j, protocol.StatusFailed, "spool: "+err.Error())
		return "", fmt.Errorf("spool job %s: %w", j.id, err)
	}

	sel, err := s.selectPrinter(ctx, a.Settings)
	if err != nil {
		s.finish(j, protocol.StatusFailed, err.Error())
		_ = filex.RemoveIfExists(j.path)
		return "", err
	}
	j.printer = sel.printer

	if sel.degraded {
		s.log.Warn(ctx, "no preferred printer available, using system default", "job_id", j.id, "printer", j.printer)
		s.observer(Event{Kind: EventDegraded, JobID: j.id, Printer: j.printer})
	}

	s.enqueue(j)

	s.log.Info(ctx, "job queued", "job_id", j.id, "printer", j.printer, "priority", string(a.Settings.Priority))
	s.observer(Event{Kind: EventQueued, JobID: j.id, Printer: j.printer, Status: protocol.StatusPending})

	return j.printer, nil
}

func (s *Scheduler) enqueue(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[j.printer]
	if !ok {
		q = &printerQueue{}
		s.queues[j.printer] = q
	}

	// after every job of the same or a more urgent rank
	i := len(q.jobs)
	for k, other := range q.jobs {
		if other.rank > j.rank {
			i = k
			break
		}
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[i+1:], q.jobs[i:])
	q.jobs[i] = j

	s.jobs[j.id] = j

	if !q.running {
		q.running = true
		s.wg.Add(1)
		go s.drain(j.printer, q)
	}
}

func (s *Scheduler) drain(printer string, q *printerQueue) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(q.jobs) == 0 || s.ctx.Err() != nil {
			q.running = false
			s.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.current = j
		s.mu.Unlock()

		s.execute(j)

		s.mu.Lock()
		q.current = nil
		delete(s.jobs, j.id)
		s.mu.Unlock()
	}
}

func (s *Scheduler) execute(j *job) {
	ctx, span := observability.StartSpan(s.ctx, s.tracer, "scheduler.print", "job.id", j.id, "printer", j.printer)
	var err error
	defer func() { observability.EndSpan(span, err) }()
	defer func() { _ = filex.RemoveIfExists(j.path) }()

	s.observer(Event{Kind: EventStatus, JobID: j.id, Printer: j.printer, Status: protocol.StatusPrinting})

	if err = s.checkReady(ctx, j.printer); err == nil {
		err = s.dispatcher.Print(ctx, j.printer, j.path, j.settings)
	}

	if err != nil {
		s.log.Error(ctx, "print failed", "job_id", j.id, "printer", j.printer, "error", err)
		s.finish(j, protocol.StatusFailed, err.Error())
		return
	}

	s.log.Info(ctx, "job printed", "job_id", j.id, "printer", j.printer)
	s.finish(j, protocol.StatusCompleted, "")
}

// checkReady fails for printers that are offline or report an error. Busy
// printers accept jobs into their own spooler.
func (s *Scheduler) checkReady(ctx context.Context, name string) error {
	if c, ok := s.provider.(interface{ Invalidate() }); ok {
		c.Invalidate()
	}

	snap, err := s.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("printer status: %w", err)
	}

	p, ok := snap.Find(name)
	if !ok {
		return fmt.Errorf("%w: %s is not installed", common.ErrPrinterNotReady, name)
	}
	if p.IsOffline || p.HasError {
		return fmt.Errorf("%w: %s", common.ErrPrinterNotReady, name)
	}
	return nil
}

// finish reports a terminal status once.
func (s *Scheduler) finish(j *job, status protocol.JobStatus, message string) {
	s.mu.Lock()
	if j.finished {
		s.mu.Unlock()
		return
	}
	j.finished = true
	s.mu.Unlock()

	s.outcomes.Add(s.ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	s.observer(Event{Kind: EventStatus, JobID: j.id, Printer: j.printer, Status: status, Message: message})
}

// Cancel removes a job that is still waiting in a queue and deletes its
// spooled file. Jobs already printing or finished return
// common.ErrJobNotQueued.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok || j.finished {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", common.ErrJobNotQueued, jobID)
	}

	q := s.queues[j.printer]
	removed := false
	for i, other := range q.jobs {
		if other == j {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", common.ErrJobNotQueued, jobID)
	}
	j.finished = true
	delete(s.jobs, jobID)
	s.mu.Unlock()

	if err := filex.RemoveIfExists(j.path); err != nil {
		s.log.Warn(s.ctx, "failed to remove spooled file", "job_id", jobID, "error", err)
	}

	s.outcomes.Add(s.ctx, 1, metric.WithAttributes(attribute.String("status", string(protocol.StatusCancelled))))
	s.log.Info(s.ctx, "job cancelled", "job_id", jobID, "printer", j.printer)
	s.observer(Event{Kind: EventCancelled, JobID: jobID, Printer: j.printer, Status: protocol.StatusCancelled})

	return nil
}

// QueueStatus reports waiting jobs and activity per printer.
func (s *Scheduler) QueueStatus() map[string]protocol.QueueInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]protocol.QueueInfo, len(s.queues))
	for name, q := range s.queues {
		out[name] = protocol.QueueInfo{Queued: len(q.jobs), Printing: q.current != nil}
	}
	return out
}

// Close stops accepting jobs, cancels running dispatches and waits for the
// queue goroutines. Jobs still waiting are left unreported.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func spoolName(jobID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, jobID)
	if name == "" {
		name = "job"
	}
	return name + ".pdf"
}
