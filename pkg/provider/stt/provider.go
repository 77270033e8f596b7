// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// A session accepts raw PCM frames from the microphone and emits two streams
// of transcripts: low-latency partials, which the assistant only displays,
// and finals, which drive the question-answering loop. Backends decide what
// "final" means (an end-of-turn for AssemblyAI, is_final for Deepgram); the
// listener only ever consumes Finals.
package stt

import (
	"context"
	"errors"

	"github.com/stephen37/voice-assistant/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a session.
type StreamConfig struct {
	// SampleRate in Hz. The assistant captures at 16000.
	SampleRate int

	// Channels is the number of interleaved channels. Backends expect 1.
	Channels int

	// Language is a BCP-47 tag. Empty lets the backend use its default.
	Language string

	// Keywords are vocabulary hints such as product names.
	Keywords []types.KeywordBoost
}

// SessionHandle is an open streaming session. All methods are safe for
// concurrent use. Callers must call Close; Partials and Finals are closed once
// the session has shut down.
type SessionHandle interface {
	// SendAudio queues a chunk of little-endian 16-bit PCM matching the
	// StreamConfig. Returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts.
	Partials() <-chan types.Transcript

	// Finals emits committed transcripts.
	Finals() <-chan types.Transcript

	// Close flushes pending audio, ends the session and releases resources.
	// Calling it more than once is safe.
	Close() error
}

// Provider opens streaming sessions.
type Provider interface {
	// StartStream opens a session ready to accept audio immediately. The
	// caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
