package resilience

import (
	"context"

	"github.com/stephen37/voice-assistant/pkg/provider/llm"
	"github.com/stephen37/voice-assistant/pkg/provider/stt"
	"github.com/stephen37/voice-assistant/pkg/provider/tts"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// ── STT ───────────────────────────────────────────────────────────────────────

// STT is an [stt.Provider] that fails over between speech recognisers. Only
// opening a session is protected; a session that drops mid-stream is the
// listener's to restart.
type STT struct {
	*Failover[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTTFallback returns an STT failover with primary as its first member.
func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STT {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STT{NewFailover(primary, name, cfg)}
}

// StartStream opens a session on the first recogniser that accepts it.
func (s *STT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(ctx, s.Failover, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// ── TTS ───────────────────────────────────────────────────────────────────────

// TTS is a [tts.Provider] that fails over between synthesisers when a stream
// cannot be opened.
type TTS struct {
	*Failover[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTSFallback returns a TTS failover with primary as its first member.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTS {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTS{NewFailover(primary, name, cfg)}
}

// SynthesizeStream opens a synthesis stream on the first healthy provider.
// The text channel is handed to exactly one provider: the first that accepts
// the stream.
func (t *TTS) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return Call(ctx, t.Failover, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices lists voices from the first provider that answers.
func (t *TTS) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return Call(ctx, t.Failover, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// ── LLM ───────────────────────────────────────────────────────────────────────

// LLM is an [llm.Provider] that fails over between language models.
type LLM struct {
	*Failover[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLMFallback returns an LLM failover with primary as its first member.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLM {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLM{NewFailover(primary, name, cfg)}
}

// StreamCompletion opens a completion stream on the first healthy model.
// Errors reported inside the stream are not retried.
func (l *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(ctx, l.Failover, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete returns the first successful completion.
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, l.Failover, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary model's tokenizer.
func (l *LLM) CountTokens(messages []types.Message) (int, error) {
	return l.primary().CountTokens(messages)
}

// Capabilities reports the primary model's capabilities.
func (l *LLM) Capabilities() types.ModelCapabilities {
	return l.primary().Capabilities()
}
