// Package ollama provides an Ollama-backed embedding client. Batch requests
// are split at the provider limit and re-joined in input order, so callers
// see one order-preserving logical call.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
	"github.com/CorpusAI/corpus-mvp/pkg/fn"
)

// MaxBatchSize is the provider's per-call item limit.
const MaxBatchSize = 100

// Client calls Ollama's embedding API.
type Client struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
	limiter *rate.Limiter
}

// New creates an embedding client for the given Ollama base URL and model.
// dims is the model's output dimensionality (768 for nomic-embed-text).
func New(baseURL, model string, dims int) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 5),
	}
}

// Dimensions returns the vector length this client produces.
func (c *Client) Dimensions() int { return c.dims }

// ModelName returns the embedding model identifier.
func (c *Client) ModelName() string { return c.model }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedCall(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("ollama embed: got %d vectors for 1 input", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, in input order. Inputs beyond
// MaxBatchSize are split across calls transparently.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Chunk(texts, MaxBatchSize) {
		vecs, err := c.embedCall(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedCall(ctx context.Context, input []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(embedReq{Model: c.model, Input: input})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.Unavailable("embedding service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, domain.Unavailable("embedding service", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	return result.Embeddings, nil
}
