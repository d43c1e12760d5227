package agentcore

import (
	"sync"
	"time"
)

// circuitState is the internal state of a CircuitBreaker.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker guards a named, potentially-flaky operation (a tool, a
// provider call) from being hammered once it starts failing. It trips open
// after a run of consecutive transient failures, rejecting calls with
// ErrCircuitOpen until a cooldown elapses, then admits a bounded number of
// trial calls (half-open) to decide whether to close again.
//
// One CircuitBreaker instance is scoped to one operation name — per
// DESIGN.md this runtime keeps one breaker per tool rather than a single
// global breaker, since failure domains (a flaky search API vs. a reliable
// shell tool) are independent.
type CircuitBreaker struct {
	name string
	mu   sync.Mutex

	state       circuitState
	failures    int
	threshold   int
	cooldown    time.Duration
	openedAt    time.Time
	halfOpenCap int // max concurrent trial calls while half-open
	halfOpenInF int
}

// NewCircuitBreaker creates a breaker for the named operation. threshold is
// the number of consecutive transient failures that trips it open; cooldown
// is how long it stays open before allowing a trial call; halfOpenRequests
// is how many concurrent trial calls it admits once half-open, before
// closing (on success) or re-opening (on failure). halfOpenRequests <= 0
// defaults to 1; a zero cooldown makes an open breaker eligible for a trial
// call immediately, and a negative cooldown defaults to 30s.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, halfOpenRequests int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown < 0 {
		cooldown = 30 * time.Second
	}
	if halfOpenRequests <= 0 {
		halfOpenRequests = 1
	}
	return &CircuitBreaker{name: name, threshold: threshold, cooldown: cooldown, halfOpenCap: halfOpenRequests}
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cooldown has elapsed, Allow transitions it to half-open and admits up to
// halfOpenCap trial calls (further calls are rejected until a trial reports
// back via Success or Failure).
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = circuitHalfOpen
		b.halfOpenInF = 1
		return true
	case circuitHalfOpen:
		if b.halfOpenInF < b.halfOpenCap {
			b.halfOpenInF++
			return true
		}
		return false
	}
	return true
}

// Success records a successful call, closing the breaker and resetting the
// failure count.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = circuitClosed
	b.failures = 0
	b.halfOpenInF = 0
}

// Failure records a failed call. Only transient failures count toward the
// trip threshold — permanent failures (bad input, auth) don't indicate the
// backend is unhealthy, so they don't trip the breaker.
func (b *CircuitBreaker) Failure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitHalfOpen {
		// The trial call failed; reopen immediately without waiting for
		// the full threshold again.
		b.state = circuitOpen
		b.openedAt = time.Now()
		b.halfOpenInF = 0
		return
	}

	if classify(err) != ErrKindTransient {
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = circuitOpen
		b.openedAt = time.Now()
		b.failures = 0
	}
}

// State returns a human-readable name for the current state, for logging
// and metrics.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerRegistry lazily creates and retains one CircuitBreaker per
// name, so callers don't need to pre-declare breakers for every tool.
type CircuitBreakerRegistry struct {
	mu               sync.Mutex
	breakers         map[string]*CircuitBreaker
	threshold        int
	cooldown         time.Duration
	halfOpenRequests int
}

// NewCircuitBreakerRegistry creates a registry applying the same
// threshold/cooldown/halfOpenRequests to every breaker it creates.
func NewCircuitBreakerRegistry(threshold int, cooldown time.Duration, halfOpenRequests int) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{breakers: make(map[string]*CircuitBreaker), threshold: threshold, cooldown: cooldown, halfOpenRequests: halfOpenRequests}
}

// Get returns the breaker for name, creating it on first use.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, r.threshold, r.cooldown, r.halfOpenRequests)
	r.breakers[name] = b
	return b
}
