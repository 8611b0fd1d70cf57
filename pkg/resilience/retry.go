package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
	"github.com/boardwatch-hq/ptt-board-courier/internal/observe"
)

// Strategy configures the exponential backoff retry loop.
// Values are not mutated after creation.
type Strategy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultStrategy matches the courier-wide fetch/deliver default:
// 3 attempts, 1s base delay, 10s cap, doubling, jitter on.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

func (s Strategy) normalized() Strategy {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 1
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = time.Second
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = s.BaseDelay
	}
	if s.Multiplier <= 0 {
		s.Multiplier = 2.0
	}
	return s
}

// jitterFraction is the uniform perturbation applied around a computed delay.
const jitterFraction = 0.25

// Executor runs operations under a retry Strategy. The random source and the
// sleep function are injectable so tests stay deterministic and instant.
type Executor struct {
	log     logger.Logger
	metrics observe.Metrics
	randFn  func() float64
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an Executor. Nil collaborators fall back to no-ops.
func NewExecutor(log logger.Logger, metrics observe.Metrics) *Executor {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if metrics == nil {
		metrics = observe.NopMetrics{}
	}
	return &Executor{
		log:     log,
		metrics: metrics,
		randFn:  rand.Float64,
		sleepFn: sleepContext,
	}
}

// WithRand overrides the jitter random source. Test hook.
func (e *Executor) WithRand(fn func() float64) *Executor {
	if fn != nil {
		e.randFn = fn
	}
	return e
}

// WithSleep overrides the wait function. Test hook.
func (e *Executor) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Executor {
	if fn != nil {
		e.sleepFn = fn
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn under the strategy and returns its value.
//
// A failed attempt is retried only while retryable(err) holds and attempts
// remain; everything else propagates unchanged. Rate-limited failures that
// carry a server-dictated wait are slept out and re-attempted without
// consuming an attempt slot. Exhaustion yields a KindExhaustedRetries error
// wrapping the last failure.
func Do[T any](ctx context.Context, e *Executor, op string, s Strategy, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if e == nil {
		e = NewExecutor(nil, nil)
	}
	if retryable == nil {
		retryable = Retryable
	}
	s = s.normalized()

	var lastErr error
	for attempt := 1; attempt <= s.MaxAttempts; {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		// Server-dictated waits are honored exactly and do not count
		// against the attempt budget.
		if wait, ok := RetryAfterOf(err); ok {
			e.log.WarnObj("operation rate limited", "retry", map[string]any{
				"operation":   op,
				"attempt":     attempt,
				"retry_after": wait.String(),
			})
			e.metrics.Increment("retry_rate_limited_total", 1, map[string]string{"operation": op})
			if serr := e.sleepFn(ctx, wait); serr != nil {
				return zero, serr
			}
			continue
		}

		if !retryable(err) || attempt >= s.MaxAttempts {
			break
		}

		delay := e.backoffDelay(s, attempt)
		e.log.WarnObj("operation failed, retrying", "retry", map[string]any{
			"operation": op,
			"attempt":   attempt,
			"max":       s.MaxAttempts,
			"delay":     delay.String(),
			"error":     err.Error(),
		})
		e.metrics.Increment("retry_attempts_total", 1, map[string]string{"operation": op})

		if serr := e.sleepFn(ctx, delay); serr != nil {
			return zero, serr
		}
		attempt++
	}

	if !retryable(lastErr) {
		return zero, lastErr
	}
	return zero, &Error{Kind: KindExhaustedRetries, Op: op, Err: lastErr, Attempts: s.MaxAttempts}
}

// Run is Do for operations without a result value.
func (e *Executor) Run(ctx context.Context, op string, s Strategy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, op, s, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// backoffDelay computes min(base·mult^attempt, max) with optional ±25% jitter.
func (e *Executor) backoffDelay(s Strategy, attempt int) time.Duration {
	d := float64(s.BaseDelay) * math.Pow(s.Multiplier, float64(attempt))
	if capped := float64(s.MaxDelay); d > capped {
		d = capped
	}
	if s.Jitter {
		offset := (e.randFn()*2 - 1) * jitterFraction * d
		d += offset
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
