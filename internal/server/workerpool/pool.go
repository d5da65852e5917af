// Package workerpool runs document transformation tasks on a fixed number
// of workers. Tasks wait in a FIFO queue while all workers are busy; a task
// that fails or panics yields an unsuccessful Result and never takes a
// worker down with it.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/dmitrijs2005/printrelay/internal/common"
	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type job struct {
	ctx  context.Context
	task Task
	done chan outcome
}

// outcome is either a Result or the reason the task never ran.
type outcome struct {
	res      Result
	rejected error
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size   int
	Busy   int
	Queued int
}

type Pool struct {
	exec   Executor
	size   int
	logger logging.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*job
	busy   int
	closed bool

	wg sync.WaitGroup

	tracer trace.Tracer
	tasks  metric.Int64Counter
}

// New starts size workers. A size of zero or less means runtime.NumCPU().
func New(size int, exec Executor, logger logging.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}

	p := &Pool{
		exec:   exec,
		size:   size,
		logger: logger.With("module", "worker_pool"),
		tracer: observability.Tracer("workerpool"),
		tasks:  observability.Counter(observability.Meter("workerpool"), "printrelay.workerpool.tasks", "Tasks executed by the worker pool"),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}

	return p
}

// Submit enqueues task and blocks until it has a result. The returned error
// is non-nil only when the task was not run: the pool is closed or ctx ended
// before a worker picked it up. Task failures are reported in Result.
func (p *Pool) Submit(ctx context.Context, task Task) (Result, error) {
	j := &job{ctx: ctx, task: task, done: make(chan outcome, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Result{}, common.ErrPoolClosed
	}
	p.queue = append(p.queue, j)
	p.cond.Signal()
	p.mu.Unlock()

	select {
	case out := <-j.done:
		if out.rejected != nil {
			return Result{}, out.rejected
		}
		return out.res, nil
	case <-ctx.Done():
		// the worker sees the cancelled context and skips the task,
		// or finishes it and drops the result into the buffered channel
		return Result{}, ctx.Err()
	}
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: p.size, Busy: p.busy, Queued: len(p.queue)}
}

// Close stops accepting tasks, rejects the ones still queued with
// common.ErrPoolClosed and waits for running tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	rejected := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, j := range rejected {
		j.done <- outcome{rejected: common.ErrPoolClosed}
	}

	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.busy++
		p.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.done <- outcome{rejected: err}
		} else {
			j.done <- outcome{res: p.run(id, j)}
		}

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

func (p *Pool) run(worker int, j *job) (res Result) {
	ctx, span := observability.StartSpan(j.ctx, p.tracer, "workerpool.task", "task.kind", string(j.task.Kind), "task.output", j.task.Output)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "task panicked", "worker", worker, "kind", j.task.Kind, "panic", r)
			res = Result{Err: fmt.Errorf("task %s panicked: %v", j.task.Kind, r)}
		}
		observability.EndSpan(span, res.Err)
		p.tasks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(j.task.Kind)),
			attribute.Bool("success", res.Success),
		))
	}()

	outputs, err := p.exec.Execute(ctx, j.task)
	if err != nil {
		p.logger.Warn(ctx, "task failed", "worker", worker, "kind", j.task.Kind, "error", err)
		return Result{Err: err}
	}

	return Result{Success: true, Outputs: outputs}
}
