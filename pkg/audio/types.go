package audio

import "time"

// AudioFrame is a single chunk of PCM flowing from the microphone to the
// speech recogniser.
type AudioFrame struct {
	// Data holds little-endian signed 16-bit PCM.
	Data []byte

	// SampleRate in Hz (e.g. 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns how much audio the frame holds.
func (f AudioFrame) Duration() time.Duration {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}.Duration(len(f.Data))
}
