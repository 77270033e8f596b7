// Package listener captures microphone audio, streams it to a speech
// recogniser and hands each final transcript to a callback.
//
// A Listener is started and stopped many times over its life: the speaker
// stops it before playing an answer so the assistant does not transcribe
// itself, and restarts it afterwards. Every Start opens a fresh microphone
// stream and recogniser session; Stop closes both.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/internal/transcript"
	"github.com/stephen37/voice-assistant/pkg/audio"
	"github.com/stephen37/voice-assistant/pkg/provider/stt"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// ErrAlreadyRunning is returned by Start while a capture session is active.
var ErrAlreadyRunning = errors.New("listener: already running")

var (
	errCaptureEnded = errors.New("listener: microphone stream ended")
	errSessionEnded = errors.New("listener: recogniser session ended")
)

// Option configures a Listener.
type Option func(*Listener)

// WithCorrector rewrites finals through c before they reach the callback.
// When the stream config carries no keywords, c's vocabulary is sent as
// recogniser hints.
func WithCorrector(c *transcript.Corrector) Option {
	return func(l *Listener) { l.corrector = c }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// Listener owns at most one capture session at a time. All methods are safe
// for concurrent use.
type Listener struct {
	mic       audio.Microphone
	stt       stt.Provider
	cfg       stt.StreamConfig
	corrector *transcript.Corrector
	metrics   *observe.Metrics

	mu  sync.Mutex
	cur *session
}

// session is one Start..Stop cycle.
type session struct {
	cancel context.CancelFunc
	stream audio.CaptureStream
	handle stt.SessionHandle
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = errors.Join(s.stream.Close(), s.handle.Close())
	})
	return s.closeErr
}

// New returns a stopped Listener. A zero sample rate or channel count in cfg
// defaults to [audio.SpeechFormat].
func New(mic audio.Microphone, recogniser stt.Provider, cfg stt.StreamConfig, opts ...Option) *Listener {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SpeechFormat.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = audio.SpeechFormat.Channels
	}
	l := &Listener{mic: mic, stt: recogniser, cfg: cfg}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	if l.corrector != nil && len(l.cfg.Keywords) == 0 {
		l.cfg.Keywords = l.corrector.Keywords()
	}
	return l
}

// Start opens a recogniser session and a microphone stream and begins
// forwarding audio. Each non-empty final transcript is passed to onFinal on
// the listener's reader goroutine; onFinal must not block and must not call
// Stop. Start returns [ErrAlreadyRunning] when a session is active.
//
// The session ends when Stop is called, when ctx is cancelled or when the
// microphone or recogniser fails.
func (l *Listener) Start(ctx context.Context, onFinal func(types.Transcript)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle, err := l.stt.StartStream(runCtx, l.cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("listener: start recogniser: %w", err)
	}
	format := audio.Format{SampleRate: l.cfg.SampleRate, Channels: l.cfg.Channels}
	stream, err := l.mic.Open(runCtx, format)
	if err != nil {
		cancel()
		_ = handle.Close()
		return fmt.Errorf("listener: open microphone: %w", err)
	}

	s := &session{cancel: cancel, stream: stream, handle: handle, done: make(chan struct{})}
	l.cur = s

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return l.pump(gctx, s, format) })
	g.Go(func() error { return l.read(gctx, s, onFinal) })
	go func() {
		defer close(s.done)
		err := g.Wait()
		if err != nil && runCtx.Err() == nil {
			slog.Warn("listener stopped unexpectedly", "err", err)
		}
		_ = s.close()
		l.mu.Lock()
		if l.cur == s {
			l.cur = nil
		}
		l.mu.Unlock()
	}()

	slog.Info("listening", "format", format, "keywords", len(l.cfg.Keywords))
	return nil
}

// Stop ends the active session and waits for its goroutines to exit. It is a
// no-op when the listener is not running.
func (l *Listener) Stop() error {
	l.mu.Lock()
	s := l.cur
	l.cur = nil
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.close()
	<-s.done
	if err != nil {
		return fmt.Errorf("listener: stop: %w", err)
	}
	slog.Info("stopped listening")
	return nil
}

// Running reports whether a capture session is active.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur != nil
}

// pump forwards microphone frames, converted to the session format, to the
// recogniser.
func (l *Listener) pump(ctx context.Context, s *session, format audio.Format) error {
	frames := audio.ConvertStream(s.stream.Frames(), format)
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(frames)
			return nil
		case frame, ok := <-frames:
			if !ok {
				if err := s.stream.Err(); err != nil {
					return fmt.Errorf("listener: capture: %w", err)
				}
				if ctx.Err() != nil {
					return nil
				}
				return errCaptureEnded
			}
			if err := s.handle.SendAudio(frame.Data); err != nil {
				go audio.Drain(frames)
				if errors.Is(err, stt.ErrSessionClosed) && ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("listener: send audio: %w", err)
			}
		}
	}
}

// read logs partials and delivers finals until the session closes.
func (l *Listener) read(ctx context.Context, s *session, onFinal func(types.Transcript)) error {
	partials, finals := s.handle.Partials(), s.handle.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			slog.Debug("partial transcript", "text", t.Text)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			l.deliver(ctx, t, onFinal)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return errSessionEnded
}

func (l *Listener) deliver(ctx context.Context, t types.Transcript, onFinal func(types.Transcript)) {
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return
	}
	t.IsFinal = true
	corrected := false
	if l.corrector != nil {
		res := l.corrector.Correct(t)
		if res.Changed() {
			slog.Debug("transcript corrected", "original", res.Original, "corrections", len(res.Corrections))
			corrected = true
		}
		t = res.Transcript
	}
	l.metrics.RecordTranscript(ctx, corrected)
	slog.Info("final transcript", "text", t.Text)
	onFinal(t)
}
