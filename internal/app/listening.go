package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stephen37/voice-assistant/internal/listener"
	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// ErrBusy is returned by Ask when a spoken turn is in flight.
var ErrBusy = errors.New("app: a question is already being answered")

// Listening reports whether the assistant is listening.
func (a *App) Listening() bool { return a.listening.Load() }

// Toggle flips the listening flag and returns the new state.
func (a *App) Toggle(ctx context.Context) (bool, error) {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	on := !a.listening.Load()
	return on, a.setLocked(ctx, on)
}

// SetListening turns listening on or off. Turning it on while an answer is
// being spoken only sets the flag: the speaker resumes listening once it is
// done.
func (a *App) SetListening(ctx context.Context, on bool) error {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	return a.setLocked(ctx, on)
}

func (a *App) setLocked(ctx context.Context, on bool) error {
	if a.listening.Swap(on) == on {
		return nil
	}
	if !on {
		a.metrics.RecordListening(ctx, false)
		slog.Info("listening off")
		return a.listener.Stop()
	}
	if !a.speaking {
		if err := a.startLocked(); err != nil {
			a.listening.Store(false)
			return err
		}
	}
	a.metrics.RecordListening(ctx, true)
	slog.Info("listening on")
	return nil
}

// startLocked starts a listening session bound to the app's lifetime.
func (a *App) startLocked() error {
	if err := a.ctx.Err(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	err := a.listener.Start(a.ctx, a.onFinal)
	if errors.Is(err, listener.ErrAlreadyRunning) {
		return nil
	}
	return err
}

// resume is the speaker's restart callback. Listening resumes only if it is
// still switched on.
func (a *App) resume(context.Context) error {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	if !a.listening.Load() || a.ctx.Err() != nil {
		return nil
	}
	return a.startLocked()
}

// onFinal runs on the listener's reader goroutine. It hands the transcript
// to the worker, or drops it while another turn is in flight.
func (a *App) onFinal(t types.Transcript) {
	if !a.busy.CompareAndSwap(false, true) {
		a.metrics.RecordDroppedTranscript(a.ctx)
		slog.Info("busy, dropping transcript", "text", t.Text)
		return
	}
	select {
	case a.finals <- t:
	default:
		a.busy.Store(false)
		a.metrics.RecordDroppedTranscript(a.ctx)
	}
}

// work handles one transcript at a time until ctx is done.
func (a *App) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.finals:
			a.turn(ctx, t)
			a.busy.Store(false)
		}
	}
}

// turn runs Router, Answerer and Speaker for one transcript. Failures are
// logged and never stop the loop.
func (a *App) turn(ctx context.Context, t types.Transcript) {
	ctx, span := observe.StartSpan(ctx, "app.turn")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx)

	ans, err := a.answer(ctx, t.Text)
	if err != nil {
		if ans.Text == "" {
			log.Warn("turn abandoned", "text", t.Text, "err", err)
			return
		}
		log.Error("answer failed", "route", ans.Route, "err", err)
	}
	log.Info("answer", "route", ans.Route, "text", ans.Text)

	a.ctlMu.Lock()
	a.speaking = true
	a.ctlMu.Unlock()

	if err := a.speaker.Say(ctx, ans.Text); err != nil {
		log.Warn("speaking failed", "err", err)
	}

	a.ctlMu.Lock()
	a.speaking = false
	if a.listening.Load() && !a.listener.Running() {
		if err := a.startLocked(); err != nil && ctx.Err() == nil {
			log.Warn("resume listening failed", "err", err)
		}
	}
	a.ctlMu.Unlock()

	a.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
}

// answer routes question and asks the language model. On a model failure the
// returned Answer carries the apology text alongside the error.
func (a *App) answer(ctx context.Context, question string) (types.Answer, error) {
	d, err := a.router.Route(ctx, question)
	if err != nil {
		return types.Answer{}, err
	}
	ans, err := a.answerer.Answer(ctx, d.Prompt)
	ans.Route = d.Route
	return ans, err
}

// Ask answers question without speaking. It shares the single in-flight
// guard with spoken turns and returns [ErrBusy] when one is running.
func (a *App) Ask(ctx context.Context, question string) (types.Answer, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return types.Answer{}, ErrBusy
	}
	defer a.busy.Store(false)
	return a.answer(ctx, question)
}
