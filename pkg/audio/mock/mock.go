// Package mock provides in-memory implementations of [audio.Microphone] and
// [audio.Output] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose fields that control results.
//
//	mic := &mock.Microphone{}
//	stream, _ := mic.Open(ctx, audio.SpeechFormat)
//	mic.Push(audio.AudioFrame{Data: pcm})   // delivered on stream.Frames()
//
//	out := &mock.Output{}
//	_ = out.Play(ctx, audio.SpeechFormat, chunks)
//	played := out.Played()
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/stephen37/voice-assistant/pkg/audio"
)

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Formats records the format requested by each Open call.
	Formats []audio.Format

	streams []*Stream
}

var _ audio.Microphone = (*Microphone)(nil)

// Open records the call and returns a new Stream.
func (m *Microphone) Open(_ context.Context, format audio.Format) (audio.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Formats = append(m.Formats, format)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &Stream{frames: make(chan audio.AudioFrame, 64), format: format}
	m.streams = append(m.streams, s)
	return s, nil
}

// Push delivers frame on the most recently opened stream. It reports false
// when no stream is open.
func (m *Microphone) Push(frame audio.AudioFrame) bool {
	m.mu.Lock()
	var s *Stream
	if n := len(m.streams); n > 0 {
		s = m.streams[n-1]
	}
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return s.push(frame)
}

// Streams returns every stream opened so far.
func (m *Microphone) Streams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.streams)
}

// OpenCount returns how many times Open was called.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Formats)
}

// Stream is a mock [audio.CaptureStream].
type Stream struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	format audio.Format
	closed bool
	err    error
}

var _ audio.CaptureStream = (*Stream)(nil)

func (s *Stream) push(frame audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if frame.SampleRate == 0 {
		frame.SampleRate, frame.Channels = s.format.SampleRate, s.format.Channels
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// Frames implements [audio.CaptureStream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Err implements [audio.CaptureStream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fail closes the stream as if the device had failed with err.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.frames)
}

// Close implements [audio.CaptureStream]. It is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close or Fail was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Output is a mock implementation of [audio.Output].
type Output struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after the chunks are drained.
	PlayErr error

	// OnPlay, if set, is called at the start of every Play.
	OnPlay func()

	// Formats records the format of each Play call.
	Formats []audio.Format

	played [][]byte
}

var _ audio.Output = (*Output)(nil)

// Play drains chunks, recording the concatenated bytes.
func (o *Output) Play(ctx context.Context, format audio.Format, chunks <-chan []byte) error {
	o.mu.Lock()
	o.Formats = append(o.Formats, format)
	hook := o.OnPlay
	o.mu.Unlock()
	if hook != nil {
		hook()
	}

	var buf []byte
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				o.mu.Lock()
				o.played = append(o.played, buf)
				err := o.PlayErr
				o.mu.Unlock()
				return err
			}
			buf = append(buf, c...)
		case <-ctx.Done():
			return errors.Join(ctx.Err(), o.PlayErr)
		}
	}
}

// Played returns the bytes of every completed Play call, in order.
func (o *Output) Played() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.played)
}
