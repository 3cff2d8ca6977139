package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// Runner starts background tasks that outlive the request that spawned
// them, and lets shutdown wait for the ones still in flight.
type Runner struct {
	logger *observability.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running int
}

// NewRunner creates a runner logging task failures to logger
func NewRunner(logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{logger: logger}
}

// SafeGo executes fn in a goroutine with panic recovery and a timeout.
//
// The task's context keeps the values of parentCtx but is not canceled
// with it, so a finished HTTP request does not abort its follow-up work.
// It returns false when the runner is draining and fn was not started.
//
//	runner.SafeGo(r.Context(), 30*time.Second, "archive pdf", func(ctx context.Context) error {
//	    return store.PutObject(ctx, key, bytes.NewReader(data), "application/pdf")
//	})
func (r *Runner) SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.WithField("task", taskName).Warn("Runner is shutting down, task dropped")
		return false
	}
	r.running++
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.running--
			r.mu.Unlock()
			r.wg.Done()
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		logger := r.logger.WithField("task", taskName)
		defer func() {
			if rec := recover(); rec != nil {
				logger.WithFields(map[string]interface{}{
					"panic": fmt.Sprint(rec),
					"stack": string(debug.Stack()),
				}).Error("Background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("Background task failed")
		}
	}()
	return true
}

// Running returns the number of tasks in flight
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Shutdown stops accepting tasks and waits for running ones until ctx is
// done
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
