// Package beep plays PCM through the system speaker using faiface/beep.
//
// The speaker is initialised once at a fixed device rate; streams in other
// rates are resampled by beep. Chunks are queued as they arrive, so playback
// starts with the first synthesised chunk rather than after the whole answer.
package beep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/stephen37/voice-assistant/pkg/audio"
)

const (
	// DefaultDeviceRate is the rate the speaker is opened at.
	DefaultDeviceRate = 44100

	resampleQuality = 4
)

var _ audio.Output = (*Speaker)(nil)

// Speaker implements audio.Output on the default output device.
type Speaker struct {
	rate    beep.SampleRate
	latency time.Duration

	initOnce sync.Once
	initErr  error
}

// Option configures a Speaker.
type Option func(*Speaker)

// WithDeviceRate sets the rate the speaker is opened at.
func WithDeviceRate(rate int) Option {
	return func(s *Speaker) { s.rate = beep.SampleRate(rate) }
}

// WithLatency sets the speaker buffer duration.
func WithLatency(d time.Duration) Option {
	return func(s *Speaker) { s.latency = d }
}

// NewSpeaker creates a Speaker. The device is opened lazily on first Play.
func NewSpeaker(opts ...Option) *Speaker {
	s := &Speaker{rate: DefaultDeviceRate, latency: 100 * time.Millisecond}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play queues chunks for playback and blocks until everything has been heard
// or ctx is cancelled.
func (s *Speaker) Play(ctx context.Context, format audio.Format, chunks <-chan []byte) error {
	if format.SampleRate <= 0 || format.Channels <= 0 || format.Channels > 2 {
		audio.Drain(chunks)
		return fmt.Errorf("beep: unsupported format %v", format)
	}
	s.initOnce.Do(func() {
		s.initErr = speaker.Init(s.rate, s.rate.N(s.latency))
	})
	if s.initErr != nil {
		audio.Drain(chunks)
		return fmt.Errorf("beep: init speaker: %w", s.initErr)
	}

	q := newQueue(format.Channels)
	go func() {
		for c := range chunks {
			q.push(c)
		}
		q.finish()
	}()

	var streamer beep.Streamer = beep.StreamerFunc(q.stream)
	if src := beep.SampleRate(format.SampleRate); src != s.rate {
		streamer = beep.Resample(resampleQuality, src, s.rate, streamer)
	}
	return s.play(ctx, streamer, q, chunks)
}

func (s *Speaker) play(ctx context.Context, streamer beep.Streamer, q *queue, chunks <-chan []byte) error {
	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.stop()
		<-done
		return ctx.Err()
	}
}

// queue buffers decoded stereo frames between the producer and the speaker's
// audio callback.
type queue struct {
	channels int

	mu       sync.Mutex
	frames   [][2]float64
	finished bool
	stopped  atomic.Bool
}

func newQueue(channels int) *queue { return &queue{channels: channels} }

func (q *queue) push(chunk []byte) {
	samples := audio.PCM16ToFloat64(audio.DecodePCM16(chunk))
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.channels == 1 {
		for _, v := range samples {
			q.frames = append(q.frames, [2]float64{v, v})
		}
		return
	}
	for i := 0; i+1 < len(samples); i += 2 {
		q.frames = append(q.frames, [2]float64{samples[i], samples[i+1]})
	}
}

func (q *queue) finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
}

func (q *queue) stop() { q.stopped.Store(true) }

// stream fills samples from the queue. While the producer is still running
// and the queue is empty it plays silence; it ends once the producer has
// finished and the queue is drained, or when stopped.
func (q *queue) stream(samples [][2]float64) (int, bool) {
	if q.stopped.Load() {
		return 0, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n := copy(samples, q.frames)
	q.frames = q.frames[n:]
	if n == len(samples) {
		return n, true
	}
	if q.finished {
		return n, n > 0
	}
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}
