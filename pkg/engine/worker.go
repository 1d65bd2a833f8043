package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/quiverfi/quiver/pkg/eventbus"
)

const (
	DefaultMaxAttempts = 3

	retryBackoffBase = time.Second
)

// WorkerPool bounds how many jobs from one queue run at once and how fast
// they hit downstream rate-limited APIs. It also owns the retry policy:
// transient failures are retried with exponential backoff up to the
// attempt cap, business failures never are.
type WorkerPool struct {
	topic       string
	concurrency int
	maxAttempts int

	sem     chan struct{}
	limiter *rate.Limiter
	logger  *slog.Logger

	// exhausted runs after the retry budget is spent, letting the owner
	// surface a terminal state for the job. The message is acked either way.
	exhausted func(ctx context.Context, event any, err error)
}

type PoolOption func(*WorkerPool)

// WithMaxAttempts overrides the retry attempt cap.
func WithMaxAttempts(attempts int) PoolOption {
	return func(p *WorkerPool) {
		p.maxAttempts = attempts
	}
}

// WithExhaustedFunc installs the callback invoked when a job's retry
// budget is spent.
func WithExhaustedFunc(fn func(ctx context.Context, event any, err error)) PoolOption {
	return func(p *WorkerPool) {
		p.exhausted = fn
	}
}

// NewWorkerPool builds a pool for one topic. ratePerMinute caps the
// sliding-window job rate; zero disables the limit.
func NewWorkerPool(topic string, concurrency, ratePerMinute int, logger *slog.Logger, opts ...PoolOption) *WorkerPool {
	limit := rate.Inf
	if ratePerMinute > 0 {
		limit = rate.Limit(float64(ratePerMinute) / 60.0)
	}

	pool := &WorkerPool{
		topic:       topic,
		concurrency: concurrency,
		maxAttempts: DefaultMaxAttempts,
		sem:         make(chan struct{}, concurrency),
		limiter:     rate.NewLimiter(limit, concurrency),
		logger:      logger.With("module", "worker_pool", "topic", topic),
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Wrap applies the pool's concurrency, rate and retry policy to a handler.
func (p *WorkerPool) Wrap(handler eventbus.EventHandler) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-p.sem }()

		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		var lastErr error

		for attempt := 1; attempt <= p.maxAttempts; attempt++ {
			err := handler(ctx, event)
			if err == nil {
				return nil
			}

			if !IsTransient(err) {
				// Handlers finalize business failures themselves; an
				// unclassified error here means the handler could not, so
				// let the broker redeliver.
				return err
			}

			lastErr = err

			p.logger.WarnContext(ctx, "job attempt failed",
				"attempt", attempt, "max_attempts", p.maxAttempts, "error", err)

			if attempt < p.maxAttempts {
				if !sleepBackoff(ctx, attempt) {
					return ctx.Err()
				}
			}
		}

		if p.exhausted != nil {
			p.exhausted(ctx, event, lastErr)

			return nil
		}

		return lastErr
	}
}

// sleepBackoff waits 1s, 2s, 4s... between attempts.
func sleepBackoff(ctx context.Context, attempt int) bool {
	wait := retryBackoffBase << (attempt - 1)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
