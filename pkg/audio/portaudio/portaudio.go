// Package portaudio captures microphone audio through PortAudio's default
// input device.
//
// The package links against the PortAudio C library. Call Initialize once
// before opening streams and Terminate on shutdown.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/stephen37/voice-assistant/pkg/audio"
)

// DefaultFrameDuration is the amount of audio delivered per frame.
const DefaultFrameDuration = 50 * time.Millisecond

var _ audio.Microphone = (*Microphone)(nil)

// Initialize initialises the PortAudio library.
func Initialize() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error { return pa.Terminate() }

// Option configures a Microphone.
type Option func(*Microphone)

// WithFrameDuration sets how much audio each frame carries.
func WithFrameDuration(d time.Duration) Option {
	return func(m *Microphone) { m.frame = d }
}

// Microphone opens capture streams on the default input device.
type Microphone struct {
	frame time.Duration
}

// NewMicrophone creates a Microphone.
func NewMicrophone(opts ...Option) *Microphone {
	m := &Microphone{frame: DefaultFrameDuration}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open starts capturing 16-bit PCM in format from the default input device.
func (m *Microphone) Open(ctx context.Context, format audio.Format) (audio.CaptureStream, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid format %v", format)
	}
	perBuffer := int(int64(format.SampleRate) * int64(m.frame) / int64(time.Second))
	buf := make([]int16, perBuffer*format.Channels)

	stream, err := pa.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), perBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	cs := &captureStream{
		frames: make(chan audio.AudioFrame, 32),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go cs.run(ctx, stream, buf, format)
	return cs, nil
}

type captureStream struct {
	frames chan audio.AudioFrame
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *captureStream) run(ctx context.Context, stream *pa.Stream, buf []int16, format audio.Format) {
	defer close(s.exited)
	defer close(s.frames)
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
	}()

	var ts time.Duration
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Overflows drop a buffer of input but the stream stays usable.
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
				continue
			}
			s.mu.Lock()
			s.err = fmt.Errorf("portaudio: read: %w", err)
			s.mu.Unlock()
			return
		}

		frame := audio.AudioFrame{
			Data:       audio.EncodePCM16(buf),
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Timestamp:  ts,
		}
		ts += frame.Duration()

		select {
		case s.frames <- frame:
		default:
			slog.Debug("portaudio: consumer too slow, dropping frame")
		}
	}
}

func (s *captureStream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *captureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the read loop and waits for the device to be released.
func (s *captureStream) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.exited
	return nil
}
