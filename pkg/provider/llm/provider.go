// Package llm defines the Provider interface for language model backends.
//
// The assistant only ever asks one question per turn: a single user message,
// possibly prefixed with retrieved context, plus a fixed system prompt. The
// interface is nevertheless conversation-shaped so that backends map cleanly
// onto the chat APIs they wrap (Ollama through any-llm, OpenAI-compatible
// servers through openai-go).
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or the
// context is cancelled.
package llm

import (
	"context"

	"github.com/stephen37/voice-assistant/pkg/types"
)

// FinishReasonError is the FinishReason carried by a chunk that reports a
// failure after the stream was opened.
const FinishReasonError = "error"

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message drives the reply.
	Messages []types.Message

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the backend default.
	Temperature float64

	// MaxTokens caps the generated tokens. Zero uses the backend default.
	MaxTokens int

	// SystemPrompt is injected before Messages as a "system" message.
	SystemPrompt string
}

// Chunk is a fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental reply text. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", or
	// FinishReasonError). Empty on intermediate chunks.
	FinishReason string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full reply text.
	Content string

	// Usage is the token accounting for the request.
	Usage Usage
}

// Provider is the abstraction over any language model backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel of reply fragments. The
	// initial error is non-nil only when the stream cannot be started; failures
	// after that surface as a Chunk whose FinishReason is FinishReasonError.
	// Callers must drain the channel.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume. It must not
	// undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}
