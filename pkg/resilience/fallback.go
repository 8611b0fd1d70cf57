package resilience

import (
	"context"
	"strings"
	"sync"

	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
	"github.com/boardwatch-hq/ptt-board-courier/internal/observe"
)

// FallbackFunc produces an alternate result when a primary operation fails.
type FallbackFunc func(ctx context.Context) (any, error)

// Recovery composes primaries with per-operation circuit breakers and
// fallbacks. It is constructed once at process start and passed by reference
// to the components that need it; there is no package-level instance.
type Recovery struct {
	log        logger.Logger
	metrics    observe.Metrics
	alerts     observe.Alerter
	breakerCfg BreakerConfig

	mu        sync.RWMutex
	fallbacks map[string]FallbackFunc
	breakers  map[string]*Breaker
}

// NewRecovery builds an empty recovery manager.
func NewRecovery(breakerCfg BreakerConfig, log logger.Logger, metrics observe.Metrics, alerts observe.Alerter) *Recovery {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if metrics == nil {
		metrics = observe.NopMetrics{}
	}
	if alerts == nil {
		alerts = observe.NopAlerter{}
	}
	return &Recovery{
		log:        log,
		metrics:    metrics,
		alerts:     alerts,
		breakerCfg: breakerCfg.normalized(),
		fallbacks:  make(map[string]FallbackFunc),
		breakers:   make(map[string]*Breaker),
	}
}

// RegisterFallback associates a fallback with an operation name.
func (r *Recovery) RegisterFallback(name string, fn FallbackFunc) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.fallbacks[name] = fn
	r.mu.Unlock()
}

// Breaker returns the breaker for the operation name, creating it on first use.
func (r *Recovery) Breaker(name string) *Breaker {
	r.mu.RLock()
	b := r.breakers[name]
	r.mu.RUnlock()
	if b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.breakers[name]; b == nil {
		b = NewBreaker(name, r.breakerCfg, r.log, r.metrics, r.alerts)
		r.breakers[name] = b
	}
	return b
}

// ResetBreaker force-closes the named breaker if one exists.
func (r *Recovery) ResetBreaker(name string) {
	r.mu.RLock()
	b := r.breakers[name]
	r.mu.RUnlock()
	if b != nil {
		b.Reset()
	}
}

func (r *Recovery) fallbackFor(name string) FallbackFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallbacks[name]
}

// ExecOptions controls one Execute call.
type ExecOptions[T any] struct {
	// WithBreaker routes the primary through the named circuit breaker;
	// a fast-failing open breaker then counts as a primary failure and is
	// a candidate for fallback like any other error.
	WithBreaker bool
	// Fallback is an inline fallback, taking precedence over a registered one.
	Fallback func(ctx context.Context) (T, error)
	// FallbackValue is a static last-resort result.
	FallbackValue *T
}

// Execute runs primary for the named operation, then the fallback chain.
//
// Order on primary failure: inline or registered fallback function first,
// then the static fallback value. When the whole chain fails, the original
// primary error is the one returned; fallback failures are only logged.
func Execute[T any](ctx context.Context, r *Recovery, name string, primary func(ctx context.Context) (T, error), opts ExecOptions[T]) (T, error) {
	var zero T
	if r == nil {
		return primary(ctx)
	}

	run := primary
	if opts.WithBreaker {
		b := r.Breaker(name)
		run = func(ctx context.Context) (T, error) {
			var out T
			err := b.Execute(ctx, func(ctx context.Context) error {
				var ierr error
				out, ierr = primary(ctx)
				return ierr
			})
			return out, err
		}
	}

	out, primaryErr := run(ctx)
	if primaryErr == nil {
		return out, nil
	}

	r.log.WarnObj("primary operation failed", "recovery", map[string]any{
		"operation": name,
		"error":     primaryErr.Error(),
	})
	r.metrics.Increment("recovery_primary_failures_total", 1, map[string]string{"operation": name})

	if fb, ok := fallbackChain(r, name, opts); ok {
		res, err := fb(ctx)
		if err == nil {
			r.metrics.Increment("recovery_fallbacks_total", 1, map[string]string{"operation": name, "kind": "function"})
			return res, nil
		}
		r.log.WarnObj("fallback failed", "recovery", map[string]any{
			"operation": name,
			"error":     err.Error(),
		})
	}

	if opts.FallbackValue != nil {
		r.metrics.Increment("recovery_fallbacks_total", 1, map[string]string{"operation": name, "kind": "value"})
		return *opts.FallbackValue, nil
	}

	return zero, primaryErr
}

// fallbackChain resolves the fallback function for one call: inline first,
// then the registry (whose any-typed result must assert to T).
func fallbackChain[T any](r *Recovery, name string, opts ExecOptions[T]) (func(ctx context.Context) (T, error), bool) {
	if opts.Fallback != nil {
		return opts.Fallback, true
	}
	reg := r.fallbackFor(name)
	if reg == nil {
		return nil, false
	}
	return func(ctx context.Context) (T, error) {
		var zero T
		v, err := reg(ctx)
		if err != nil {
			return zero, err
		}
		typed, ok := v.(T)
		if !ok {
			return zero, Errorf(KindConfig, name, "registered fallback returned %T", v)
		}
		return typed, nil
	}, true
}
