package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func embedServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req openAIEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resp openAIEmbedResponse
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(i)
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: vec, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestNewOpenAIEmbedder_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	e, err := NewOpenAIEmbedder()
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}
	if e.endpoint != defaultOpenAIEndpoint {
		t.Errorf("endpoint = %s, want %s", e.endpoint, defaultOpenAIEndpoint)
	}
	if e.model != defaultOpenAIModel {
		t.Errorf("model = %s, want %s", e.model, defaultOpenAIModel)
	}
	if e.Dimensions() != defaultOpenAIDimensions {
		t.Errorf("dimensions = %d, want %d", e.Dimensions(), defaultOpenAIDimensions)
	}
}

func TestNewOpenAIEmbedder_WithOptions(t *testing.T) {
	e, err := NewOpenAIEmbedder(
		WithOpenAIEndpoint("https://example.test/v1"),
		WithOpenAIModel("text-embedding-3-large"),
		WithOpenAIKey("sk-custom"),
		WithOpenAIDimensions(3072),
		WithOpenAIParallelism(8),
	)
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}
	if e.endpoint != "https://example.test/v1" {
		t.Errorf("endpoint = %s", e.endpoint)
	}
	if e.model != "text-embedding-3-large" {
		t.Errorf("model = %s", e.model)
	}
	if e.Dimensions() != 3072 {
		t.Errorf("dimensions = %d, want 3072", e.Dimensions())
	}
	if e.parallelism != 8 {
		t.Errorf("parallelism = %d, want 8", e.parallelism)
	}
}

func TestNewOpenAIEmbedder_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := NewOpenAIEmbedder(); err == nil {
		t.Fatal("expected error when no API key is set")
	}
}

func TestOpenAIEmbedBatch_PreservesOrder(t *testing.T) {
	srv := embedServer(t, 4, nil)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(
		WithOpenAIEndpoint(srv.URL),
		WithOpenAIKey("test"),
		WithOpenAIDimensions(4),
	)
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}

	texts := []string{"first", "second", "third"}
	got, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d embeddings, want 3", len(got))
	}
	for i, vec := range got {
		if len(vec) != 4 {
			t.Fatalf("embedding %d has %d dims, want 4", i, len(vec))
		}
		if vec[0] != float32(i) {
			t.Errorf("embedding %d out of order: marker %f", i, vec[0])
		}
	}
}

func TestOpenAIEmbedBatch_SplitsLargeInput(t *testing.T) {
	var calls atomic.Int64
	srv := embedServer(t, 2, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(
		WithOpenAIEndpoint(srv.URL),
		WithOpenAIKey("test"),
		WithOpenAIDimensions(2),
	)
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}

	texts := make([]string, openAIMaxBatchSize+1)
	for i := range texts {
		texts[i] = "text"
	}
	got, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(got), len(texts))
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d requests, want 2", calls.Load())
	}
}

func TestOpenAIEmbedBatch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(WithOpenAIEndpoint(srv.URL), WithOpenAIKey("test"))
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}

	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error from 429 response")
	}
}

func TestOllamaEmbedder_Options(t *testing.T) {
	e := NewOllamaEmbedder(
		WithOllamaEndpoint("http://127.0.0.1:9999"),
		WithOllamaModel("custom-model"),
		WithOllamaDimensions(512),
	)
	if e.endpoint != "http://127.0.0.1:9999" {
		t.Errorf("endpoint = %s", e.endpoint)
	}
	if e.model != "custom-model" {
		t.Errorf("model = %s", e.model)
	}
	if e.Dimensions() != 512 {
		t.Errorf("dimensions = %d, want 512", e.Dimensions())
	}
}

func TestOllamaEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 2, 3})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(WithOllamaEndpoint(srv.URL), WithOllamaDimensions(3))
	got, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 2 || len(got[0]) != 3 {
		t.Fatalf("unexpected embeddings: %v", got)
	}
}
