package jina_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings/jina"
)

type capturedRequest struct {
	Auth          string
	Model         string   `json:"model"`
	Task          string   `json:"task"`
	Dimensions    int      `json:"dimensions"`
	LateChunking  bool     `json:"late_chunking"`
	EmbeddingType string   `json:"embedding_type"`
	Input         []string `json:"input"`
}

// jinaServer answers /embeddings with one vector of length dims per input,
// listed in reverse index order to exercise re-sorting. Vector i is filled
// with float32(i+1).
func jinaServer(t *testing.T, dims int, captured *[]capturedRequest) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		req.Auth = r.Header.Get("Authorization")
		mu.Lock()
		*captured = append(*captured, req)
		mu.Unlock()

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dims)
			for j := range vec {
				vec[j] = float32(i + 1)
			}
			data = append(data, item{Index: i, Embedding: vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  data,
			"usage": map[string]int{"total_tokens": 42},
		})
	}))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := jina.New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := jina.New("key", jina.WithDimensions(-1)); err == nil {
		t.Error("expected error for negative dimensions")
	}
	p, err := jina.New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Dimensions() != 1024 || p.ModelID() != "jina-embeddings-v3" {
		t.Errorf("defaults: dims=%d model=%q", p.Dimensions(), p.ModelID())
	}
}

func TestEmbedBatch_PassageTask(t *testing.T) {
	t.Parallel()
	var got []capturedRequest
	srv := jinaServer(t, 4, &got)
	defer srv.Close()

	p, err := jina.New("jina_secret", jina.WithBaseURL(srv.URL), jina.WithDimensions(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"Turing 1950", "Dartmouth 1956", "Logic Theorist"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d not in input order: first component %v", i, v[0])
		}
	}

	if len(got) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(got))
	}
	req := got[0]
	if req.Auth != "Bearer jina_secret" {
		t.Errorf("Authorization = %q", req.Auth)
	}
	if req.Task != jina.TaskPassage {
		t.Errorf("task = %q, want %q", req.Task, jina.TaskPassage)
	}
	if req.Model != jina.DefaultModel || req.Dimensions != 4 || req.LateChunking || req.EmbeddingType != "float" {
		t.Errorf("unexpected request body: %+v", req)
	}
}

func TestEmbedQuery_QueryTask(t *testing.T) {
	t.Parallel()
	var got []capturedRequest
	srv := jinaServer(t, 4, &got)
	defer srv.Close()

	p, err := jina.New("k", jina.WithBaseURL(srv.URL+"/"), jina.WithDimensions(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := embeddings.EmbedQuery(context.Background(), p, "what makes milvus fast"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(got) != 1 || got[0].Task != jina.TaskQuery {
		t.Fatalf("expected one query-task request, got %+v", got)
	}
}

func TestWithTasks_TextMatching(t *testing.T) {
	t.Parallel()
	var got []capturedRequest
	srv := jinaServer(t, 4, &got)
	defer srv.Close()

	p, _ := jina.New("k", jina.WithBaseURL(srv.URL), jina.WithDimensions(4),
		jina.WithTasks(jina.TaskTextMatching, jina.TaskTextMatching))
	if _, err := p.Embed(context.Background(), "a"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := p.EmbedQuery(context.Background(), "b"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	for _, r := range got {
		if r.Task != jina.TaskTextMatching {
			t.Errorf("task = %q, want %q", r.Task, jina.TaskTextMatching)
		}
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	t.Parallel()
	var got []capturedRequest
	srv := jinaServer(t, 3, &got)
	defer srv.Close()

	p, _ := jina.New("k", jina.WithBaseURL(srv.URL), jina.WithDimensions(4))
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbed_ErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid API key"}`))
	}))
	defer srv.Close()

	p, _ := jina.New("bad", jina.WithBaseURL(srv.URL))
	_, err := p.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "Invalid API key") {
		t.Fatalf("expected error carrying the API detail, got %v", err)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()
	p, _ := jina.New("k", jina.WithBaseURL("http://127.0.0.1:1"))
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
}
