package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
	"github.com/boardwatch-hq/ptt-board-courier/internal/observe"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a circuit breaker instance.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	MonitoringPeriod time.Duration
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the courier-wide breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MonitoringPeriod: 10 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	State           State
	FailureCount    int
	LastFailureTime time.Time
	HalfOpenCalls   int
}

// Breaker guards one named operation with a three-state circuit.
//
// CLOSED recovers by decrementing the failure count on success rather than
// resetting it, so a flapping operation has to earn its way back. An OPEN
// breaker counts rejected calls as failures and refreshes lastFailureTime,
// which pushes the recovery window forward while callers keep hammering it;
// this mirrors the behavior the delivery pipeline has always had and is kept
// as-is (see DESIGN.md before changing it).
type Breaker struct {
	name    string
	cfg     BreakerConfig
	log     logger.Logger
	metrics observe.Metrics
	alerts  observe.Alerter
	now     func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	halfOpenCalls   int
}

// NewBreaker builds a breaker for the named operation, created CLOSED with
// zero counters. Nil collaborators fall back to no-ops.
func NewBreaker(name string, cfg BreakerConfig, log logger.Logger, metrics observe.Metrics, alerts observe.Alerter) *Breaker {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if metrics == nil {
		metrics = observe.NopMetrics{}
	}
	if alerts == nil {
		alerts = observe.NopAlerter{}
	}
	return &Breaker{
		name:    name,
		cfg:     cfg.normalized(),
		log:     log,
		metrics: metrics,
		alerts:  alerts,
		now:     time.Now,
		state:   StateClosed,
	}
}

// WithClock overrides the breaker clock. Test hook.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	if now != nil {
		b.now = now
	}
	return b
}

// Name returns the operation name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		HalfOpenCalls:   b.halfOpenCalls,
	}
}

// Reset force-returns the breaker to CLOSED with zero counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	prev := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCalls = 0
	b.lastFailureTime = time.Time{}
	b.mu.Unlock()
	b.logTransition(prev, StateClosed, "manual reset")
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// admit decides whether the call may be forwarded and applies the
// pre-call state bookkeeping.
func (b *Breaker) admit() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		now := b.now()
		if now.Sub(b.lastFailureTime) > b.cfg.RecoveryTimeout {
			prev := b.state
			b.state = StateHalfOpen
			b.halfOpenCalls = 0
			b.mu.Unlock()
			b.logTransition(prev, StateHalfOpen, "recovery timeout elapsed")
			return b.admit()
		}
		// Rejections count as failures and refresh the failure clock.
		b.failureCount++
		b.lastFailureTime = now
		b.mu.Unlock()
		b.metrics.Increment("circuit_rejected_total", 1, map[string]string{"operation": b.name})
		return Errorf(KindCircuitOpen, b.name, "circuit open, call rejected")

	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			b.metrics.Increment("circuit_rejected_total", 1, map[string]string{"operation": b.name})
			return Errorf(KindCircuitOpen, b.name, "half-open call budget spent")
		}
		b.halfOpenCalls++
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

// record applies post-call state bookkeeping for a forwarded call.
func (b *Breaker) record(err error) {
	b.mu.Lock()

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			prev := b.state
			b.state = StateClosed
			b.failureCount = 0
			b.halfOpenCalls = 0
			b.mu.Unlock()
			b.logTransition(prev, StateClosed, "probe call succeeded")
		default:
			// Leaky bucket: successes drain the failure count one
			// at a time instead of clearing it.
			if b.failureCount > 0 {
				b.failureCount--
			}
			b.mu.Unlock()
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		prev := b.state
		b.state = StateOpen
		b.lastFailureTime = b.now()
		b.mu.Unlock()
		b.logTransition(prev, StateOpen, "probe call failed")
	default:
		b.failureCount++
		b.lastFailureTime = b.now()
		if b.state == StateClosed && b.failureCount >= b.cfg.FailureThreshold {
			prev := b.state
			b.state = StateOpen
			count := b.failureCount
			b.mu.Unlock()
			b.logTransition(prev, StateOpen, "failure threshold reached")
			b.alerts.Trigger(observe.LevelCritical, "circuit opened",
				"operation failures crossed the threshold", b.name,
				map[string]any{"failure_count": count, "threshold": b.cfg.FailureThreshold})
			return
		}
		b.mu.Unlock()
	}
}

func (b *Breaker) logTransition(from, to State, reason string) {
	b.log.InfoObj("circuit state transition", "circuit", map[string]any{
		"operation": b.name,
		"from":      from.String(),
		"to":        to.String(),
		"reason":    reason,
	})
	b.metrics.Increment("circuit_transitions_total", 1, map[string]string{
		"operation": b.name,
		"to":        to.String(),
	})
}
