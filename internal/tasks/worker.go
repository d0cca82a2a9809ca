// Package tasks runs the integration's background work: release processing,
// webhook reconciliation, disconnect cleanup and the scheduled account
// refresh sweep.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// retryableError marks a task failure worth re-running. Anything else is
// terminal for the task.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so the runner re-enqueues the task.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type task struct {
	name    string
	attempt int
	run     func(ctx context.Context) error
}

// Runner is a bounded worker pool over an in-process queue. Failed tasks that
// report a retryable error are re-enqueued with a fixed backoff until the
// retry budget is spent.
type Runner struct {
	queue      chan task
	workers    int
	maxRetries int
	backoff    time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewRunner creates a runner with the given pool and queue size.
func NewRunner(workers, queueSize, maxRetries int, backoff time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		queue:      make(chan task, queueSize),
		workers:    workers,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	slog.Info("task runner started", "workers", r.workers)
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (r *Runner) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// Submit enqueues a task. A full queue drops the task with an error log
// rather than blocking a request path; every task is reconstructible from
// durable state by the next sync or sweep.
func (r *Runner) Submit(name string, run func(ctx context.Context) error) {
	select {
	case r.queue <- task{name: name, run: run}:
	default:
		slog.Error("task queue full, dropping task", "task", name)
	}
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			r.execute(ctx, t)
		}
	}
}

func (r *Runner) execute(ctx context.Context, t task) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("task panicked", "task", t.name, "panic", rec)
		}
	}()

	err := t.run(ctx)
	if err == nil {
		return
	}

	var retry *retryableError
	if !errors.As(err, &retry) {
		slog.Error("task failed", "task", t.name, "attempt", t.attempt+1, "error", err)
		return
	}
	if t.attempt+1 >= r.maxRetries {
		slog.Error("task retries exhausted",
			"task", t.name, "attempts", t.attempt+1, "error", err)
		return
	}

	slog.Warn("task failed, will retry",
		"task", t.name, "attempt", t.attempt+1, "error", err)
	next := task{name: t.name, attempt: t.attempt + 1, run: t.run}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(r.backoff * time.Duration(next.attempt)):
			select {
			case r.queue <- next:
			default:
				slog.Error("task queue full, dropping retry", "task", next.name)
			}
		}
	}()
}

// taskName builds a stable, loggable task identifier.
func taskName(kind string, parts ...string) string {
	name := kind
	for _, p := range parts {
		name = fmt.Sprintf("%s:%s", name, p)
	}
	return name
}
