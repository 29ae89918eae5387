package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
)

// embedServer answers /api/embed with one deterministic vector per input.
func embedServer(t *testing.T, gotBatches *[][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req embedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if gotBatches != nil {
			*gotBatches = append(*gotBatches, req.Input)
		}
		resp := embedResp{Embeddings: make([][]float32, len(req.Input))}
		for i, text := range req.Input {
			resp.Embeddings[i] = []float32{float32(len(text)), float32(i)}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbed(t *testing.T) {
	srv := embedServer(t, nil)
	defer srv.Close()

	c := New(srv.URL, "nomic-embed-text", 2)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[0] != 5 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedBatchOrderPreserved(t *testing.T) {
	srv := embedServer(t, nil)
	defer srv.Close()

	c := New(srv.URL, "nomic-embed-text", 2)
	texts := []string{"a", "bb", "ccc"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vector %d = %v, want first element %d", i, vecs[i], len(text))
		}
	}
}

func TestEmbedBatchSplitsAtLimit(t *testing.T) {
	var batches [][]string
	srv := embedServer(t, &batches)
	defer srv.Close()

	c := New(srv.URL, "nomic-embed-text", 2)
	texts := make([]string, MaxBatchSize+30)
	for i := range texts {
		texts[i] = "x"
	}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != len(texts) {
		t.Errorf("got %d vectors for %d inputs", len(vecs), len(texts))
	}
	if len(batches) != 2 {
		t.Fatalf("got %d provider calls, want 2", len(batches))
	}
	if len(batches[0]) != MaxBatchSize || len(batches[1]) != 30 {
		t.Errorf("batch sizes = %d/%d", len(batches[0]), len(batches[1]))
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "m", 2)
	_, err := c.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsRetryable(err) {
		t.Errorf("5xx should be retryable: %v", err)
	}
}

func TestEmbedClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "m", 2)
	_, err := c.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsRetryable(err) {
		t.Errorf("4xx must not be retryable: %v", err)
	}
}

func TestEmbedTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c := New(srv.URL, "m", 2)
	_, err := c.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsRetryable(err) {
		t.Errorf("transport failure should be retryable: %v", err)
	}
}

func TestClientAccessors(t *testing.T) {
	c := New("http://localhost:11434", "nomic-embed-text", 768)
	if c.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d", c.Dimensions())
	}
	if c.ModelName() != "nomic-embed-text" {
		t.Errorf("ModelName() = %q", c.ModelName())
	}
}
