// Package worker runs a bounded set of workers over a job queue.
package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/okian/kpisync/internal/adapters/mq/queue"
	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

// Handler processes one job.
type Handler interface {
	Handle(ctx context.Context, job queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job queue.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job queue.Job) error { return f(ctx, job) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until its queue is drained or it is stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is drained.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for it to exit.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	jobs    <-chan queue.Job
	handler Handler
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from jobs.
func NewInMemoryWorker(jobs <-chan queue.Job, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		jobs:     jobs,
		handler:  handler,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			if err := w.handler.Handle(ctx, job); err != nil {
				w.logger.Debug(ctx, "job failed",
					logger.String("contactId", job.ContactID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Pool manages a fixed number of workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	started bool

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers; at least one is created.
func NewPool(ctx context.Context, workerCount int, q Queue, handler Handler) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}

	jobs := q.Dequeue(ctx)
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		p.workers[i] = NewInMemoryWorker(jobs, handler, WithName("worker-"+strconv.Itoa(i)))
	}

	metrics.UpdateEnrichPoolWidth(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Wait blocks until every started worker has exited. Workers exit once the
// queue is closed and drained or the context given to Start is done, so
// Wait never returns while a handler is still running. The returned error
// is ctx.Err() when ctx ended before the queue was drained.
func (p *Pool) Wait(ctx context.Context) error {
	if !p.started {
		return nil
	}
	for _, w := range p.workers {
		<-w.done
	}
	return ctx.Err()
}

// Shutdown closes the queue, stops the workers and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	for i, w := range p.workers {
		if !p.started {
			break
		}
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return err
		}
	}
	return nil
}
