// Package retry runs best-effort operations with bounded exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Task is a function to retry. It reports whether the returned error is
// worth another attempt.
type Task = func(context.Context) (shouldRetry bool, err error)

// Policy is a retry policy for task execution.
type Policy interface {
	Start(ctx context.Context, name string, task Task) error
}

// ExponentialBackoff retries with exponentially growing, jittered intervals.
type ExponentialBackoff struct {
	// MaxAttempts caps the number of attempts. Zero means unlimited; one
	// disables retries.
	MaxAttempts uint64

	// MinInterval is the first retry interval before jitter. Defaults to 1/8s.
	MinInterval time.Duration

	// MaxInterval bounds the retry interval before jitter. Defaults to 5s.
	MaxInterval time.Duration

	// Timeout bounds all attempts together.
	Timeout time.Duration

	NoJitter bool

	Logger *slog.Logger
}

// Start runs task until it succeeds, asks not to be retried, runs out of
// attempts or the context ends.
func (e *ExponentialBackoff) Start(ctx context.Context, name string, task Task) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	for attempt := uint64(1); ; attempt++ {
		retry, err := task(ctx)
		if err == nil {
			if attempt > 1 {
				e.log(ctx, slog.LevelDebug, "retry succeeded", name, attempt, nil)
			}
			return nil
		}

		interval := e.shouldRetry(ctx, attempt, retry)
		if interval == 0 {
			e.log(ctx, slog.LevelDebug, "retry gave up", name, attempt, err)
			return err
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			e.log(ctx, slog.LevelDebug, "retry cancelled", name, attempt, ctx.Err())
			return ctx.Err()
		}
	}
}

func (e *ExponentialBackoff) shouldRetry(ctx context.Context, attempt uint64, retry bool) time.Duration {
	switch {
	case !retry,
		attempt == e.MaxAttempts,
		ctx.Err() != nil:
		return 0
	}

	minInterval := e.MinInterval
	if minInterval == 0 {
		minInterval = time.Second / 8
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 5 * time.Second
	}

	factor := math.Pow(2, math.Min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !e.NoJitter {
		// jitter between 95% and 105% of the base interval
		// #nosec G404
		factor *= .95 + .1*rand.Float64()
	}
	return time.Duration(factor * float64(minInterval))
}

func (e *ExponentialBackoff) log(ctx context.Context, level slog.Level, msg, name string, attempt uint64, err error) {
	if e.Logger == nil {
		return
	}
	attrs := []slog.Attr{slog.String("task", name), slog.Uint64("attempt", attempt)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	e.Logger.LogAttrs(ctx, level, msg, attrs...)
}
