// Package audio defines the local audio devices the assistant talks through
// and the PCM helpers shared by their implementations.
//
// The two device abstractions are:
//
//   - [Microphone] opens a [CaptureStream] of 16-bit PCM frames.
//   - [Output] plays a stream of 16-bit PCM chunks and returns when playback
//     has finished.
//
// Hardware backends live in sub-packages (audio/portaudio, audio/beep) so that
// the rest of the module, and its tests, never link against cgo audio
// libraries.
package audio

import (
	"context"
	"time"
)

// SpeechFormat is what the speech recogniser and synthesiser exchange:
// 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Duration returns the playback time of n bytes of 16-bit PCM in f.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// CaptureStream is an open microphone.
type CaptureStream interface {
	// Frames delivers captured audio. It is closed when the stream stops,
	// either through Close or because the device failed.
	Frames() <-chan AudioFrame

	// Err returns the error that stopped the stream, if any.
	Err() error

	// Close stops capture and releases the device. It is idempotent.
	Close() error
}

// Microphone opens capture streams. Only one stream is expected to be open
// at a time.
type Microphone interface {
	Open(ctx context.Context, format Format) (CaptureStream, error)
}

// Output plays PCM audio.
type Output interface {
	// Play plays chunks in format until the channel is closed and all audio
	// has been heard, or ctx is cancelled. Callers must close chunks.
	Play(ctx context.Context, format Format, chunks <-chan []byte) error
}
