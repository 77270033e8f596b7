// Package tts defines the Provider interface for text-to-speech backends.
//
// Synthesis is streamed both ways: the speaker pushes answer text (one or
// more sentences) into a channel and plays PCM chunks as soon as the backend
// returns them, so playback starts before the whole answer is synthesised.
package tts

import (
	"context"

	"github.com/stephen37/voice-assistant/pkg/types"
)

// Provider is the abstraction over any TTS backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and
	// returns a channel of raw PCM chunks in the provider's output format. The
	// audio channel is closed when synthesis finishes, fails, or ctx is
	// cancelled; callers must drain it. A non-nil error means the stream could
	// not be started. An empty voice ID selects the provider's default voice.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// SynthesizeText is a convenience wrapper that synthesises a single string.
func SynthesizeText(ctx context.Context, p Provider, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return p.SynthesizeStream(ctx, ch, voice)
}
