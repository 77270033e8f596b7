// Package speaker reads answers aloud.
//
// Speaking is bracketed by the listener: it is stopped before synthesis so the
// microphone does not pick up the assistant's own voice, and restarted after
// playback plus a short resume delay that lets the room echo die down.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/pkg/audio"
	"github.com/stephen37/voice-assistant/pkg/provider/tts"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// DefaultResumeDelay is the pause between the end of playback and listening
// again.
const DefaultResumeDelay = time.Second

// Pauser is the part of the listener the speaker controls.
type Pauser interface {
	Stop() error
}

// RestartFunc resumes listening after an answer has been spoken. The caller
// decides whether listening should resume at all (it may have been toggled
// off while the answer played).
type RestartFunc func(ctx context.Context) error

// Option configures a Speaker.
type Option func(*Speaker)

// WithVoice selects the synthesis voice. The zero profile uses the provider
// default.
func WithVoice(v types.VoiceProfile) Option {
	return func(s *Speaker) { s.voice = v }
}

// WithFormat sets the PCM format the TTS provider produces. Default:
// [audio.SpeechFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Speaker) { s.format = f }
}

// WithResumeDelay overrides [DefaultResumeDelay].
func WithResumeDelay(d time.Duration) Option {
	return func(s *Speaker) { s.resumeDelay = d }
}

// WithListener makes Say stop l before speaking and call restart afterwards.
func WithListener(l Pauser, restart RestartFunc) Option {
	return func(s *Speaker) {
		s.listener = l
		s.restart = restart
	}
}

// WithProviderName labels provider metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(s *Speaker) { s.provider = name }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// Speaker synthesises text and plays it. Say calls are expected one at a time.
type Speaker struct {
	tts         tts.Provider
	out         audio.Output
	voice       types.VoiceProfile
	format      audio.Format
	resumeDelay time.Duration
	listener    Pauser
	restart     RestartFunc
	provider    string
	metrics     *observe.Metrics
}

// New returns a Speaker that synthesises with p and plays through out.
func New(p tts.Provider, out audio.Output, opts ...Option) *Speaker {
	s := &Speaker{
		tts:         p,
		out:         out,
		format:      audio.SpeechFormat,
		resumeDelay: DefaultResumeDelay,
		provider:    "tts",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Say stops the listener, speaks text, waits the resume delay and restarts the
// listener. Listening resumes even when synthesis or playback fail; only a
// cancelled ctx skips the restart.
func (s *Speaker) Say(ctx context.Context, text string) error {
	if s.listener != nil {
		if err := s.listener.Stop(); err != nil {
			slog.Warn("failed to stop listener before speaking", "err", err)
		}
	}

	speakErr := s.speak(ctx, text)
	if speakErr != nil && ctx.Err() == nil {
		slog.Error("failed to speak answer", "err", speakErr)
	}
	return errors.Join(speakErr, s.resume(ctx))
}

func (s *Speaker) speak(ctx context.Context, text string) error {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "speaker.speak")
	defer span.End()

	start := time.Now()
	fragments := make(chan string, len(sentences))
	for _, sentence := range sentences {
		fragments <- sentence
	}
	close(fragments)

	pcm, err := s.tts.SynthesizeStream(ctx, fragments, s.voice)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.provider, "tts", err)
		return fmt.Errorf("speaker: synthesize: %w", err)
	}
	err = s.out.Play(ctx, s.format, pcm)
	if err != nil {
		go audio.Drain(pcm)
		err = fmt.Errorf("speaker: play: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.provider, "tts", err)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	slog.Debug("answer spoken", "sentences", len(sentences), "duration", time.Since(start))
	return err
}

func (s *Speaker) resume(ctx context.Context) error {
	if s.restart == nil {
		return nil
	}
	t := time.NewTimer(s.resumeDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
	}
	if err := s.restart(ctx); err != nil {
		return fmt.Errorf("speaker: resume listening: %w", err)
	}
	return nil
}

// sentenceEnd matches terminal punctuation followed by whitespace.
var sentenceEnd = regexp.MustCompile(`([.!?]+)\s+`)

// SplitSentences breaks text into trimmed sentences so synthesis can start
// on the first one while the rest are still queued.
func SplitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(strings.TrimSpace(text), "$1\n")
	var out []string
	for _, s := range strings.Split(marked, "\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
