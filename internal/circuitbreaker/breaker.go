// Package circuitbreaker stops hammering a failing upstream. The billing
// gateway keys one circuit per dependency (e.g. "stripe") and short-circuits
// calls while the upstream is down.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is one of the circuit's three phases.
type State int

const (
	StateClosed   State = iota // requests flow
	StateOpen                  // requests rejected
	StateHalfOpen              // one probe in flight
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

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cartpulse",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time // last failure time; cooldown counts from here
}

// Breaker holds one independent circuit per key. A circuit trips open
// after threshold consecutive failures, rejects requests for the cooldown,
// then lets a single probe through.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	onChange  func(key string, from, to State)
}

// New creates a breaker. Non-positive arguments fall back to 5 failures
// and a 30 second cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a request to key may proceed. An open circuit
// whose cooldown has elapsed becomes half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.circuits[key]
	if !ok || cb.state == StateClosed {
		return true
	}
	if cb.state == StateHalfOpen {
		// A probe is already out; reject until it resolves.
		return false
	}
	if time.Since(cb.openedAt) >= b.cooldown {
		b.transition(cb, key, StateHalfOpen)
		return true
	}
	return false
}

// RecordSuccess clears the failure count and, after a successful probe,
// closes the circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.circuits[key]
	if !ok {
		return
	}
	if cb.state == StateHalfOpen {
		b.transition(cb, key, StateClosed)
	}
	cb.failures = 0
}

// RecordFailure counts one failure, tripping the circuit at the threshold
// and re-opening it when a probe fails.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.circuits[key]
	if !ok {
		cb = &circuit{}
		b.circuits[key] = cb
	}

	cb.failures++
	cb.openedAt = time.Now()

	switch {
	case cb.state == StateHalfOpen:
		b.transition(cb, key, StateOpen)
	case cb.state == StateClosed && cb.failures >= b.threshold:
		b.transition(cb, key, StateOpen)
	}
}

// State returns key's current state; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.circuits[key]; ok {
		return cb.state
	}
	return StateClosed
}

// transition changes state, counts it, and fires the callback off the
// lock. Caller holds b.mu.
func (b *Breaker) transition(cb *circuit, key string, to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cbStateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.onChange != nil {
		fn := b.onChange
		go fn(key, from, to)
	}
}
