// Package breaker implements the per-callee circuit breaker (spec §4.2): a
// closed/open/half-open state machine in front of execute(fn), plus a named
// registry that emits state-change events on the bus.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/types"
)

// ErrBreakerOpen is returned by Execute when the breaker refuses admission.
var ErrBreakerOpen = types.ErrBreakerOpen

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config is the breaker's tunable thresholds (spec §4.2).
type Config struct {
	FailureThreshold int           // consecutive failures in closed state before opening
	SuccessThreshold int           // consecutive successes in half-open before closing
	Timeout          time.Duration // how long to stay open before allowing a half-open probe
	HalfOpenLimit    int           // concurrent trial calls allowed while half-open
}

// DefaultConfig matches the teacher's resilience package defaults scaled to
// the spec's integer-threshold model rather than a failure-rate window.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenLimit:    1,
	}
}

// Metrics are the monotone-within-epoch counters spec §4.2 requires.
type Metrics struct {
	TotalRequests    int64
	SuccessCount     int64
	FailureCount     int64
	RejectedRequests int64
	HalfOpenRequests int64
}

// StateChangeFunc is invoked on every state transition, e.g. to publish a
// circuit_breaker:state_changed event.
type StateChangeFunc func(name string, old, new State, metrics Metrics)

// CircuitBreaker is one named breaker guarding a single callee.
type CircuitBreaker struct {
	name   string
	cfg    Config
	onChange StateChangeFunc

	mu             sync.Mutex
	state          State
	consecutiveOK  int
	consecutiveBad int
	nextAttempt    time.Time
	halfOpenInFlight int
	metrics        Metrics
	lastActivity   time.Time
}

func newBreaker(name string, cfg Config, onChange StateChangeFunc) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		onChange: onChange,
		state:    Closed,
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker's counters.
func (b *CircuitBreaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Execute runs fn if the breaker admits the call, records the outcome, and
// returns ErrBreakerOpen without calling fn if it does not. This is the
// execute(fn) contract from spec §4.2: admission check, counter update,
// run, record, propagate.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		b.mu.Lock()
		b.metrics.RejectedRequests++
		b.mu.Unlock()
		return ErrBreakerOpen
	}

	err := fn(ctx)
	b.recordResult(err == nil)
	return err
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastActivity = time.Now()

	switch b.state {
	case Open:
		if time.Now().Before(b.nextAttempt) {
			return false
		}
		b.transition(HalfOpen)
		b.halfOpenInFlight = 0
		fallthrough
	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenLimit {
			return false
		}
		b.halfOpenInFlight++
		b.metrics.HalfOpenRequests++
	}
	b.metrics.TotalRequests++
	return true
}

func (b *CircuitBreaker) recordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastActivity = time.Now()

	if b.state == HalfOpen {
		b.halfOpenInFlight--
	}

	if success {
		b.metrics.SuccessCount++
	} else {
		b.metrics.FailureCount++
	}

	switch b.state {
	case Closed:
		if success {
			b.consecutiveBad = 0
			return
		}
		b.consecutiveBad++
		if b.consecutiveBad >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case HalfOpen:
		if !success {
			b.openLocked()
			return
		}
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.transition(Closed)
			b.resetCountersLocked()
		}
	case Open:
		// admission already blocked; nothing to record
	}
}

func (b *CircuitBreaker) openLocked() {
	b.transition(Open)
	b.nextAttempt = time.Now().Add(b.cfg.Timeout)
	b.resetCountersLocked()
}

func (b *CircuitBreaker) resetCountersLocked() {
	b.consecutiveOK = 0
	b.consecutiveBad = 0
	b.halfOpenInFlight = 0
}

func (b *CircuitBreaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		metrics := b.metrics
		go b.onChange(b.name, from, to, metrics)
	}
}

// resetIfStaleOpen force-resets the breaker to closed if it has been open
// longer than staleAfter with no recorded activity — the maintenance sweep
// in Manager calls this.
func (b *CircuitBreaker) resetIfStaleOpen(staleAfter time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return false
	}
	if time.Since(b.lastActivity) < staleAfter {
		return false
	}
	b.transition(Closed)
	b.resetCountersLocked()
	return true
}
