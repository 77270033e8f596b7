package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with one vector of length dims per input
// and reports every received input slice on inputs.
func embedServer(t *testing.T, dims int, inputs chan<- []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if inputs != nil {
			inputs <- req.Input
		}
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = make([]float32, dims)
			out[i][0] = float32(i)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNomicPrefixes(t *testing.T) {
	t.Parallel()
	inputs := make(chan []string, 3)
	srv := embedServer(t, 768, inputs)
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := p.Embed(ctx, "Milvus is column oriented"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := <-inputs; got[0] != "search_document: Milvus is column oriented" {
		t.Errorf("passage input = %q", got[0])
	}

	if _, err := embeddings.EmbedQuery(ctx, p, "is milvus fast"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if got := <-inputs; got[0] != "search_query: is milvus fast" {
		t.Errorf("query input = %q", got[0])
	}

	vecs, err := p.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got := <-inputs; got[1] != "search_document: b" {
		t.Errorf("batch input = %v", got)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("batch vectors out of order: %v", vecs)
	}
}

func TestOtherModelsVerbatim(t *testing.T) {
	t.Parallel()
	inputs := make(chan []string, 1)
	srv := embedServer(t, 1024, inputs)
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "mxbai-embed-large")
	if _, err := p.EmbedQuery(context.Background(), "hello"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if got := <-inputs; got[0] != "hello" {
		t.Errorf("input = %q, want verbatim", got[0])
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()
	p, _ := ollama.New("http://127.0.0.1:19999", "nomic-embed-text")
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("EmbedBatch(nil) = %v, %v", got, err)
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"bge-m3", 1024},
		{"all-minilm", 384},
	}
	for _, tt := range tests {
		p, _ := ollama.New("http://127.0.0.1:19999", tt.model)
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("%s: Dimensions() = %d, want %d", tt.model, got, tt.want)
		}
	}

	p, _ := ollama.New("http://127.0.0.1:19999", "custom", ollama.WithDimensions(256))
	if got := p.Dimensions(); got != 256 {
		t.Errorf("WithDimensions: got %d, want 256", got)
	}
}

func TestDimensions_ProbeOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{make([]float32, 512)}})
	}))
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "custom-embed")
	for range 3 {
		if got := p.Dimensions(); got != 512 {
			t.Fatalf("Dimensions() = %d, want 512", got)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("probe requests = %d, want 1", n)
	}
}

func TestEmbed_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not-json"))
		}},
		{"empty", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[]}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			p, _ := ollama.New(srv.URL, "nomic-embed-text")
			if _, err := p.Embed(context.Background(), "hello"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	defer srv.Close()
	defer close(stop)

	p, _ := ollama.New(srv.URL, "nomic-embed-text")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "hello"); err == nil {
		t.Fatal("expected cancellation error")
	}
}
