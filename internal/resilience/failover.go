package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when no member of a [Failover] could serve a call.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [Failover].
type FallbackConfig struct {
	// Kind names the provider slot ("stt", "tts", "llm") in log lines.
	Kind string

	// Breaker is the template for each member's breaker. Its Name is replaced
	// by the member name.
	Breaker BreakerConfig
}

type member[T any] struct {
	name    string
	p       T
	breaker *Breaker
}

// Failover serves calls from a primary provider and falls back to further
// providers, in the order they were added, when a call fails or a member's
// breaker is open. It is safe for concurrent use.
type Failover[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	members []member[T]
}

// NewFailover returns a Failover whose first member is primary.
func NewFailover[T any](primary T, primaryName string, cfg FallbackConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends p behind the members already registered.
func (f *Failover[T]) AddFallback(name string, p T) {
	bc := f.cfg.Breaker
	bc.Name = name
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = append(f.members, member[T]{name: name, p: p, breaker: NewBreaker(bc)})
}

// Names lists the members in call order.
func (f *Failover[T]) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.members))
	for i, m := range f.members {
		names[i] = m.name
	}
	return names
}

// Breaker returns the breaker guarding the named member, or nil.
func (f *Failover[T]) Breaker(name string) *Breaker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, m := range f.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

func (f *Failover[T]) primary() T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.members[0].p
}

func (f *Failover[T]) snapshot() []member[T] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]member[T](nil), f.members...)
}

// Call runs fn against each member of f until one succeeds. It stops early
// when ctx is done. The returned error wraps [ErrAllFailed] and every member's
// failure.
func Call[T, R any](ctx context.Context, f *Failover[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i, m := range f.snapshot() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.p)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("served by fallback provider", "kind", f.cfg.Kind, "provider", m.name)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider with open circuit", "kind", f.cfg.Kind, "provider", m.name)
		} else {
			slog.Warn("provider failed, trying next", "kind", f.cfg.Kind, "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
