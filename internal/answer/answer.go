// Package answer turns a routed prompt into the text the assistant speaks.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stephen37/voice-assistant/internal/observe"
	"github.com/stephen37/voice-assistant/pkg/provider/llm"
	"github.com/stephen37/voice-assistant/pkg/types"
)

const (
	// SystemPrompt keeps replies short enough to listen to.
	SystemPrompt = "Please respond in short, concise sentences."

	// FallbackText is spoken when the language model fails.
	FallbackText = "I'm sorry, I encountered an error while processing your request."
)

// ErrEmptyAnswer is returned when the model finished without producing text.
var ErrEmptyAnswer = errors.New("answer: model returned no text")

// Option configures an Answerer.
type Option func(*Answerer)

// WithSystemPrompt replaces [SystemPrompt].
func WithSystemPrompt(p string) Option {
	return func(a *Answerer) { a.systemPrompt = p }
}

// WithTemperature sets the sampling temperature. Zero keeps the model default.
func WithTemperature(t float64) Option {
	return func(a *Answerer) { a.temperature = t }
}

// WithMaxTokens caps the reply length. Zero keeps the model default.
func WithMaxTokens(n int) Option {
	return func(a *Answerer) { a.maxTokens = n }
}

// WithProviderName labels provider metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(a *Answerer) { a.provider = name }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Answerer) { a.metrics = m }
}

// Answerer asks a language model for a reply. It is safe for concurrent use.
type Answerer struct {
	llm          llm.Provider
	systemPrompt string
	temperature  float64
	maxTokens    int
	provider     string
	metrics      *observe.Metrics
}

// New returns an Answerer backed by p.
func New(p llm.Provider, opts ...Option) *Answerer {
	a := &Answerer{llm: p, systemPrompt: SystemPrompt, provider: "llm"}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Answer streams a completion for prompt and joins the fragments. On failure
// the returned Answer carries [FallbackText] together with the error, so the
// caller can speak an apology and log the cause.
func (a *Answerer) Answer(ctx context.Context, prompt string) (types.Answer, error) {
	ctx, span := observe.StartSpan(ctx, "answer.answer")
	defer span.End()

	start := time.Now()
	text, err := a.complete(ctx, prompt)
	elapsed := time.Since(start)

	a.metrics.LLMDuration.Record(ctx, elapsed.Seconds())
	a.metrics.RecordProviderRequest(ctx, a.provider, "llm", err)
	if err != nil {
		observe.Fail(span, err)
		return types.Answer{Text: FallbackText, Duration: elapsed}, err
	}
	slog.Debug("answer generated", "chars", len(text), "duration", elapsed)
	return types.Answer{Text: text, Duration: elapsed}, nil
}

func (a *Answerer) complete(ctx context.Context, prompt string) (string, error) {
	req := llm.CompletionRequest{
		Messages:     []types.Message{{Role: "user", Content: prompt}},
		SystemPrompt: a.systemPrompt,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	}
	chunks, err := a.llm.StreamCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("answer: start completion: %w", err)
	}

	var sb strings.Builder
	var streamErr error
	for c := range chunks {
		if c.FinishReason == llm.FinishReasonError {
			streamErr = errors.New(strings.TrimSpace(c.Text))
			continue
		}
		if streamErr == nil {
			sb.WriteString(c.Text)
		}
	}
	if streamErr != nil {
		return "", fmt.Errorf("answer: completion: %w", streamErr)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("answer: completion: %w", err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyAnswer
	}
	return text, nil
}
