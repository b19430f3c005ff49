package resilience

import (
	"math/rand/v2"
	"sync"
	"time"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	StateClosed   CircuitState = iota // attempts allowed
	StateOpen                         // attempts gated until nextAttempt
	StateHalfOpen                     // exactly one probe attempt in flight
)

// String returns the state name.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "invalid"
	}
}

// BreakerConfig holds tuning for the circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	// Default: 5.
	MaxFailures int

	// BaseDelay is the backoff delay after the first failure. Default: 2s.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 60s.
	MaxDelay time.Duration

	// OnStateChange is called after every state transition, outside any
	// internal lock.
	OnStateChange func(StateChange)
}

func (c *BreakerConfig) withDefaults() BreakerConfig {
	cfg := *c
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	return cfg
}

// StateChange describes one breaker transition.
type StateChange struct {
	State        CircuitState
	FailureCount int
	NextAttempt  time.Time     // zero unless gated
	Delay        time.Duration // zero unless a failure scheduled one
}

// BreakerSnapshot is a read-only view of the breaker.
type BreakerSnapshot struct {
	State                CircuitState
	FailureCount         int
	LastFailure          time.Time
	NextAttempt          time.Time
	CanAttempt           bool
	TimeUntilNextAttempt time.Duration
}

// Breaker gates connection attempts to the gateway. A process restart
// always begins with a fresh closed circuit; nothing here is persisted.
//
// Callers must serialize attempts: the state machine assumes at most one
// connection attempt in flight.
type Breaker struct {
	cfg BreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	lastFailure  time.Time
	nextAttempt  time.Time

	// now and jitter are overridable for tests.
	now    func() time.Time
	jitter func() float64
}

// NewBreaker creates a closed circuit breaker. Zero-value config fields get
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:    cfg.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
		jitter: rand.Float64,
	}
}

// CanAttempt reports whether a connection attempt is allowed right now.
//
// In OPEN, the first call at or past the scheduled attempt time flips the
// circuit to HALF_OPEN and returns true; that single true is the caller's
// one probe slot. HALF_OPEN returns false until an outcome is reported.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true
	case StateOpen:
		if !b.now().Before(b.nextAttempt) {
			change := b.transition(StateHalfOpen)
			b.mu.Unlock()
			b.notify(change)
			return true
		}
		b.mu.Unlock()
		return false
	default: // half-open: probe already handed out
		b.mu.Unlock()
		return false
	}
}

// OnSuccess resets the breaker to closed from any state.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.failureCount = 0
	b.lastFailure = time.Time{}
	b.nextAttempt = time.Time{}
	change := b.transition(StateClosed)
	b.mu.Unlock()
	b.notify(change)
}

// OnFailure records a failed attempt and schedules the next allowed one.
// The circuit opens once MaxFailures consecutive failures accumulate, or
// immediately when a half-open probe fails.
func (b *Breaker) OnFailure(err error) {
	_ = err // recorded by the caller's journal; the breaker only counts

	b.mu.Lock()
	now := b.now()
	b.failureCount++
	b.lastFailure = now

	delay := b.calculateDelay()
	b.nextAttempt = now.Add(delay)

	var change *StateChange
	if b.failureCount >= b.cfg.MaxFailures || b.state == StateHalfOpen {
		change = b.transition(StateOpen)
	}
	if change != nil {
		change.Delay = delay
	}
	b.mu.Unlock()
	b.notify(change)
}

// Snapshot returns the current breaker view without mutating state.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	snap := BreakerSnapshot{
		State:        b.state,
		FailureCount: b.failureCount,
		LastFailure:  b.lastFailure,
		NextAttempt:  b.nextAttempt,
	}

	switch b.state {
	case StateClosed:
		snap.CanAttempt = true
	case StateOpen:
		snap.CanAttempt = !now.Before(b.nextAttempt)
	}

	if b.nextAttempt.After(now) {
		snap.TimeUntilNextAttempt = b.nextAttempt.Sub(now)
	}
	return snap
}

// Reset forces the circuit closed regardless of history. Operator override;
// identical in effect to OnSuccess.
func (b *Breaker) Reset() {
	b.OnSuccess()
}

// calculateDelay computes min(base·2^(n−1), max) with ±25% uniform jitter.
// Jitter spreads reconnects so simultaneous failures across instances do
// not stampede the gateway. Caller holds b.mu.
func (b *Breaker) calculateDelay() time.Duration {
	shift := b.failureCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 30 {
		shift = 30
	}

	exp := b.cfg.BaseDelay << shift
	if exp > b.cfg.MaxDelay || exp <= 0 {
		exp = b.cfg.MaxDelay
	}

	jittered := float64(exp) + float64(exp)*0.25*(b.jitter()-0.5)
	return time.Duration(int64(jittered))
}

// transition switches state and builds the notification. Caller holds b.mu.
func (b *Breaker) transition(to CircuitState) *StateChange {
	b.state = to
	change := StateChange{
		State:        to,
		FailureCount: b.failureCount,
		NextAttempt:  b.nextAttempt,
	}
	return &change
}

func (b *Breaker) notify(change *StateChange) {
	if change != nil && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(*change)
	}
}
