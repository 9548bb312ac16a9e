package breaker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing, reject calls
	StateHalfOpen              // testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// OpenError is returned when a call is rejected because the breaker is open.
// RetryAfter is the remaining cool-down before a recovery probe is allowed.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q open, retry in %v", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// Config holds breaker thresholds.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	RecoveryTimeout  time.Duration // open duration before half-open probes
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Breaker gates an arbitrary operation behind circuit-breaker state. It never
// swallows the operation's own error, only blocks future calls after repeated
// failures. Thread-safe.
type Breaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	failures       int // consecutive, current streak
	successes      int // consecutive, meaningful in half-open
	probes         int // in-flight half-open recovery probes
	lastFailure    time.Time
	lastChange     time.Time
	totalFailures  int64
	totalSuccesses int64
}

// Stats is a snapshot of breaker state for observability.
type Stats struct {
	State          string        `json:"state"`
	Failures       int           `json:"failures"`
	Successes      int           `json:"successes"`
	TotalFailures  int64         `json:"total_failures"`
	TotalSuccesses int64         `json:"total_successes"`
	SuccessRate    float64       `json:"success_rate_pct"`
	InState        time.Duration `json:"in_state"`
}

// New creates a circuit breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		cfg:        cfg,
		state:      StateClosed,
		lastChange: time.Now(),
	}
}

// Execute runs op behind the breaker. When the breaker is open and the
// recovery timeout has not elapsed, op is never invoked and an *OpenError is
// returned. The operation's own error is always re-raised after recording.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow checks the state at call time. The open-to-half-open transition is
// lazy: it happens on the first call attempt after the timeout, not on a timer.
// Half-open admits at most SuccessThreshold in-flight probes; further calls
// are rejected until a probe records its outcome.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateHalfOpen:
		if b.probes >= b.cfg.SuccessThreshold {
			return &OpenError{Name: b.cfg.Name, RetryAfter: b.cfg.RecoveryTimeout}
		}
		b.probes++
		return nil

	case StateOpen:
		since := time.Since(b.lastFailure)
		if since >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.successes = 0
			b.probes = 1
			return nil
		}
		return &OpenError{Name: b.cfg.Name, RetryAfter: b.cfg.RecoveryTimeout - since}

	default:
		return &OpenError{Name: b.cfg.Name, RetryAfter: b.cfg.RecoveryTimeout}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
			b.probes = 0
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any probe failure sends the breaker back to open.
		b.transition(StateOpen)
		b.successes = 0
		b.probes = 0
	}
}

// ForceOpen trips the breaker directly, bypassing the failure counter. Used
// for drawdown-triggered halts.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	if b.state != StateOpen {
		b.transition(StateOpen)
	}
	log.Printf("breaker %s: forced OPEN: %s", b.cfg.Name, reason)
}

// Reset forces the breaker closed from any state, zeroing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
	b.probes = 0
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of counters and state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.totalFailures + b.totalSuccesses
	rate := 0.0
	if total > 0 {
		rate = float64(b.totalSuccesses) / float64(total) * 100
	}
	return Stats{
		State:          b.state.String(),
		Failures:       b.failures,
		Successes:      b.successes,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		SuccessRate:    rate,
		InState:        time.Since(b.lastChange),
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	log.Printf("breaker %s: %s -> %s", b.cfg.Name, b.state, to)
	b.state = to
	b.lastChange = time.Now()
}
