package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errDown = errors.New("provider down")

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail() error { return errDown }
func pass() error { return nil }

func newTestBreaker(c *clock) *Breaker {
	return NewBreaker(BreakerConfig{Name: "test", Threshold: 3, Cooldown: time.Minute, Probes: 2, Now: c.Now})
}

func TestBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})
	if b.cfg.Threshold != DefaultThreshold || b.cfg.Cooldown != DefaultCooldown || b.cfg.Probes != DefaultProbes {
		t.Errorf("config = %+v, want package defaults", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(newClock())

	for i := range 3 {
		if err := b.Do(fail); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v, want provider error", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(newClock())

	for _, fn := range []func() error{fail, fail, pass, fail, fail} {
		_ = b.Do(fn)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after an interrupted failure run", b.State())
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(newClock())

	for range 5 {
		_ = b.Do(func() error { return fmt.Errorf("dial: %w", context.Canceled) })
		_ = b.Do(func() error { return context.DeadlineExceeded })
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []func() error
		want   State
	}{
		{"probes pass", []func() error{pass, pass}, StateClosed},
		{"probe fails", []func() error{pass, fail}, StateOpen},
		{"first probe fails", []func() error{fail}, StateOpen},
		{"one probe so far", []func() error{pass}, StateHalfOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newClock()
			b := newTestBreaker(c)
			for range 3 {
				_ = b.Do(fail)
			}
			c.Advance(time.Minute)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after cooldown = %v, want half-open", b.State())
			}
			for _, p := range tt.probes {
				_ = b.Do(p)
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_HalfOpenCapsConcurrentProbes(t *testing.T) {
	t.Parallel()
	c := newClock()
	b := newTestBreaker(c)
	for range 3 {
		_ = b.Do(fail)
	}
	c.Advance(time.Minute)

	release := make(chan struct{})
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		started := make(chan struct{})
		go func() {
			defer wg.Done()
			_ = b.Do(func() error { close(started); <-release; return nil })
		}()
		<-started
	}
	if err := b.Do(pass); !errors.Is(err, ErrOpen) {
		t.Errorf("third probe: err = %v, want ErrOpen", err)
	}
	close(release)
	wg.Wait()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(newClock())
	for range 3 {
		_ = b.Do(fail)
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(pass); err != nil {
		t.Errorf("Do after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
