package utils

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/articulated/logging"
)

// ErrPoolClosed is returned when acquiring a worker from a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Job is a unit of work handed to a pool worker. The context is the pool's lifetime context.
type Job func(ctx context.Context) error

// Worker is one goroutine of a WorkerPool. A worker obtained from Acquire is reserved for the
// caller until it is given a job with Execute.
type Worker struct {
	id      int
	execute chan Job
	pool    *WorkerPool
}

// ID returns the index of the worker within its pool.
func (w *Worker) ID() int {
	return w.id
}

// Execute hands a job to a reserved worker. It does not block on the job itself.
func (w *Worker) Execute(job Job) {
	w.pool.inflight.Add(1)
	select {
	case w.execute <- job:
	case <-w.pool.workers.Context().Done():
		w.pool.recordError(ErrPoolClosed)
		w.pool.inflight.Done()
	}
}

// WorkerPool is a fixed set of goroutines. Each idle worker parks itself on a shared ready queue;
// Acquire takes any ready worker, Execute hands it a job, and WaitAll is the barrier over all
// jobs handed out so far. A panicking job is recovered and reported as an error by WaitAll.
type WorkerPool struct {
	logger  logging.Logger
	workers *StoppableWorkers
	ready   chan *Worker

	inflight sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewWorkerPool starts size workers. size must be positive.
func NewWorkerPool(size int, logger logging.Logger) (*WorkerPool, error) {
	if size <= 0 {
		return nil, errors.Errorf("worker pool size must be positive, got %d", size)
	}
	pool := &WorkerPool{
		logger: logger,
		ready:  make(chan *Worker, size),
	}
	funcs := make([]func(context.Context), 0, size)
	for i := 0; i < size; i++ {
		w := &Worker{id: i, execute: make(chan Job), pool: pool}
		funcs = append(funcs, w.run)
	}
	pool.workers = NewStoppableWorkers(funcs...)
	logger.Debugw("started worker pool", "size", size)
	return pool, nil
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return cap(p.ready)
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case w.pool.ready <- w:
		case <-ctx.Done():
			return
		}
		select {
		case job := <-w.execute:
			w.pool.runJob(ctx, w, job)
		case <-ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) runJob(ctx context.Context, w *Worker, job Job) {
	defer p.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker %d: job panicked: %v", w.id, r)
			p.logger.Errorw("recovered panic in worker", "worker", w.id, "panic", r)
			p.recordError(err)
		}
	}()
	if err := job(ctx); err != nil {
		p.recordError(errors.Wrapf(err, "worker %d", w.id))
	}
}

func (p *WorkerPool) recordError(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

// Acquire waits for any ready worker. It fails when ctx is done first or the pool is closed.
func (p *WorkerPool) Acquire(ctx context.Context) (*Worker, error) {
	select {
	case <-p.workers.Context().Done():
		return nil, ErrPoolClosed
	default:
	}
	select {
	case w := <-p.ready:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.workers.Context().Done():
		return nil, ErrPoolClosed
	}
}

// Go acquires a worker and executes job on it.
func (p *WorkerPool) Go(ctx context.Context, job Job) error {
	w, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	w.Execute(job)
	return nil
}

// WaitAll blocks until every job handed out so far has finished, then returns and clears the
// errors they produced. If ctx is done first its error is returned and the jobs keep running.
func (p *WorkerPool) WaitAll(ctx context.Context) error {
	done := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		p.inflight.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	errs := p.errs
	p.errs = nil
	p.mu.Unlock()
	return multierr.Combine(errs...)
}

// Close stops all workers and waits for them to exit. Jobs already running finish first.
func (p *WorkerPool) Close() {
	p.workers.Stop()
	p.logger.Debug("worker pool closed")
}
