package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zmcp/bc-mcp/internal/constants"
)

// RateLimiterOptions configures a RateLimiter
type RateLimiterOptions struct {
	MaxConcurrent int           // Simultaneous in-flight operations
	MaxPerWindow  int           // Operations admitted per sliding window
	Window        time.Duration // Sliding window length
}

// DefaultRateLimiterOptions matches the Business Central service limits
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		MaxConcurrent: constants.DefaultMaxConcurrent,
		MaxPerWindow:  constants.DefaultMaxPerWindow,
		Window:        constants.DefaultWindow,
	}
}

// RateLimiter bounds both the number of in-flight operations and the number
// of operations started within a trailing time window.
//
// Admission checks the window first. A caller that finds the window full
// sleeps until its oldest entry expires and checks again. Once admitted to the
// window it waits for a concurrency slot; slots are handed out in strict FIFO
// order and a released slot goes to the head of the queue.
type RateLimiter struct {
	opts RateLimiterOptions
	sem  *semaphore.Weighted

	mu     sync.Mutex
	starts []time.Time

	inFlight atomic.Int64
	queued   atomic.Int64
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter. Zero or negative option values fall
// back to the defaults.
func NewRateLimiter(opts RateLimiterOptions) *RateLimiter {
	def := DefaultRateLimiterOptions()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = def.MaxConcurrent
	}
	if opts.MaxPerWindow <= 0 {
		opts.MaxPerWindow = def.MaxPerWindow
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}

	return &RateLimiter{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		now:  time.Now,
	}
}

// Options returns the effective configuration
func (r *RateLimiter) Options() RateLimiterOptions {
	return r.opts
}

// InFlight returns the number of operations currently holding a slot
func (r *RateLimiter) InFlight() int {
	return int(r.inFlight.Load())
}

// Queued returns the number of callers waiting for a concurrency slot
func (r *RateLimiter) Queued() int {
	return int(r.queued.Load())
}

// Execute runs op once both limits admit it. The concurrency slot is released
// exactly once after op returns, whether it succeeded, failed or panicked.
func (r *RateLimiter) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	return op(ctx)
}

// Do is Execute for operations that produce a value
func Do[T any](ctx context.Context, r *RateLimiter, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

func (r *RateLimiter) acquire(ctx context.Context) error {
	if err := r.admitWindow(ctx); err != nil {
		return err
	}
	r.queued.Add(1)
	err := r.sem.Acquire(ctx, 1)
	r.queued.Add(-1)
	if err != nil {
		return err
	}
	r.inFlight.Add(1)
	return nil
}

func (r *RateLimiter) release() {
	r.inFlight.Add(-1)
	r.sem.Release(1)
}

// admitWindow records a start timestamp once the trailing window has room.
// The check and the record happen under one lock so concurrent callers can
// never overshoot MaxPerWindow.
func (r *RateLimiter) admitWindow(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		r.pruneLocked(now)
		if len(r.starts) < r.opts.MaxPerWindow {
			r.starts = append(r.starts, now)
			r.mu.Unlock()
			return nil
		}
		wait := r.starts[0].Add(r.opts.Window).Sub(now)
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	cutoff := 0
	for cutoff < len(r.starts) && now.Sub(r.starts[cutoff]) >= r.opts.Window {
		cutoff++
	}
	if cutoff > 0 {
		r.starts = append(r.starts[:0], r.starts[cutoff:]...)
	}
}

// windowCount returns the number of starts inside the trailing window
func (r *RateLimiter) windowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return len(r.starts)
}
