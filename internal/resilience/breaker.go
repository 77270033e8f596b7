// Package resilience keeps the voice loop answering when a hosted provider
// misbehaves.
//
// A [Breaker] stops calling a provider after a run of consecutive failures and
// lets a few probe calls through once a cooldown has passed. A [Failover]
// puts a primary provider and its configured fallbacks behind one breaker
// each and serves every call from the first member that succeeds. [STT],
// [TTS] and [LLM] adapt a Failover to the provider interfaces so the rest of
// the assistant never sees the difference.
//
// Context cancellation is not a provider failure: a turn abandoned because
// listening was switched off must not trip a breaker.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// Breaker defaults.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
	DefaultProbes    = 3
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown has passed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One failed
	// probe opens the breaker again; enough successful probes close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the package defaults.
type BreakerConfig struct {
	// Name identifies the protected provider in log lines.
	Name string

	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// Cooldown is how long an open breaker rejects calls.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. It also caps concurrent probes.
	Probes int

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Probes <= 0 {
		c.Probes = DefaultProbes
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int // consecutive, closed state only
	openedAt time.Time
	probing  int // half-open calls in flight
	passed   int // successful half-open calls
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// Do calls fn unless the breaker is open, and records its outcome. Errors
// from fn are returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(probe, err)
	return err
}

// State reports the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and forgets all failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moveTo(StateClosed)
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if !b.cooledDown() {
			return false, ErrOpen
		}
		b.moveTo(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probing+b.passed >= b.cfg.Probes {
			return false, ErrOpen
		}
		b.probing++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A probe that outlived its half-open window has nothing left to decide.
	stale := probe && b.state != StateHalfOpen
	if probe && !stale {
		b.probing--
	}

	switch {
	case stale:
	case err == nil:
		if probe {
			b.passed++
			if b.passed >= b.cfg.Probes {
				b.moveTo(StateClosed)
			}
			return
		}
		b.failures = 0
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case probe:
		b.moveTo(StateOpen)
	default:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.moveTo(StateOpen)
		}
	}
}

func (b *Breaker) cooledDown() bool {
	return b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown
}

// moveTo switches state and clears the counters. b.mu must be held.
func (b *Breaker) moveTo(s State) {
	from := b.state
	b.state = s
	b.failures, b.probing, b.passed = 0, 0, 0
	if s == StateOpen {
		b.openedAt = b.cfg.Now()
	}
	if from == s {
		return
	}
	log := slog.Info
	if s == StateOpen {
		log = slog.Warn
	}
	log("circuit breaker state changed", "provider", b.cfg.Name, "from", from, "to", s)
}
