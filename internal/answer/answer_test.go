package answer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stephen37/voice-assistant/internal/answer"
	"github.com/stephen37/voice-assistant/pkg/provider/llm"
	"github.com/stephen37/voice-assistant/pkg/provider/llm/mock"
)

func TestAnswer_ConcatenatesChunks(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: mock.TextChunks("Milvus is ", "a vector ", "database. ")}
	a := answer.New(p)

	got, err := a.Answer(context.Background(), "Context: ...\n\nUser Query: what is milvus")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got.Text != "Milvus is a vector database." {
		t.Errorf("text = %q", got.Text)
	}

	reqs := p.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.SystemPrompt != answer.SystemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "Context: ...\n\nUser Query: what is milvus" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestAnswer_Options(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: mock.TextChunks("ok")}
	a := answer.New(p, answer.WithSystemPrompt("Be brief."), answer.WithTemperature(0.3), answer.WithMaxTokens(120))
	if _, err := a.Answer(context.Background(), "hi"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	req := p.Requests()[0]
	if req.SystemPrompt != "Be brief." || req.Temperature != 0.3 || req.MaxTokens != 120 {
		t.Errorf("request = %+v", req)
	}
}

func TestAnswer_Fallback(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	tests := []struct {
		name    string
		p       *mock.Provider
		wantErr error
	}{
		{name: "start error", p: &mock.Provider{StreamErr: boom}, wantErr: boom},
		{
			name: "mid-stream error",
			p: &mock.Provider{StreamChunks: []llm.Chunk{
				{Text: "Partial "},
				{Text: "model overloaded", FinishReason: llm.FinishReasonError},
			}},
		},
		{name: "empty reply", p: &mock.Provider{StreamChunks: mock.TextChunks("  ")}, wantErr: answer.ErrEmptyAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := answer.New(tt.p).Answer(context.Background(), "hi")
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got.Text != answer.FallbackText {
				t.Errorf("text = %q, want fallback", got.Text)
			}
		})
	}
}

func TestAnswer_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &mock.Provider{StreamChunks: mock.TextChunks("never", "seen")}
	got, err := answer.New(p).Answer(ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if got.Text != answer.FallbackText {
		t.Errorf("text = %q", got.Text)
	}
}
