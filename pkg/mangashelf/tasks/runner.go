// Package tasks runs best-effort background work off the request path.
//
// Submitted tasks always run: when the queue is full they get their own
// goroutine, and after Close they run on the caller's goroutine. Failures
// are logged and counted, never returned to the submitter.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/mangashelf/pkg/mangashelf/metrics"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
	DefaultTimeout   = 5 * time.Minute
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Runner drains a bounded queue with a fixed set of workers
type Runner struct {
	queue   chan task
	timeout time.Duration
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	running sync.WaitGroup
}

// Option configures a Runner
type Option func(*Runner)

// WithWorkers sets the number of worker goroutines
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity
func WithQueueSize(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.queue = make(chan task, n)
		}
	}
}

// WithTimeout bounds each task
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for task failures
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a runner and starts its workers
func New(opts ...Option) *Runner {
	r := &Runner{
		queue:   make(chan task, DefaultQueueSize),
		timeout: DefaultTimeout,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.running.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go r.work()
	}
	return r
}

func (r *Runner) work() {
	defer r.running.Done()
	for t := range r.queue {
		r.run(t)
	}
}

// Submit schedules fn. It never blocks on a full queue.
func (r *Runner) Submit(name string, fn Func) {
	t := task{name: name, fn: fn}
	r.pending.Add(1)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		metrics.BackgroundTasksTotal.WithLabelValues(name, "inline").Inc()
		r.run(t)
		return
	}
	select {
	case r.queue <- t:
		r.mu.RUnlock()
	default:
		r.mu.RUnlock()
		metrics.BackgroundTasksTotal.WithLabelValues(name, "overflow").Inc()
		r.logger.Warn("background queue full, running task on its own goroutine", "task", name)
		go r.run(t)
	}
}

func (r *Runner) run(t task) {
	defer r.pending.Done()

	// Detached from any request context; only the task timeout applies.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err := r.safeRun(ctx, t)
	metrics.BackgroundTaskDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BackgroundTasksTotal.WithLabelValues(t.name, "failed").Inc()
		r.logger.Error("background task failed", "task", t.name, "err", err)
		return
	}
	metrics.BackgroundTasksTotal.WithLabelValues(t.name, "ok").Inc()
	r.logger.Debug("background task finished", "task", t.name, "duration", time.Since(start))
}

func (r *Runner) safeRun(ctx context.Context, t task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.fn(ctx)
}

// Wait blocks until every task submitted so far has finished
func (r *Runner) Wait() {
	r.pending.Wait()
}

// Close stops accepting queued work and waits for the workers to drain the
// queue or for ctx to end.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
