// Package hybrid answers queries by fusing dense vector similarity with
// sparse keyword matching into one ranked list. Vector search captures
// semantic similarity but can miss exact terminology; the keyword pass
// recovers exact-term recall.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
	"github.com/CorpusAI/corpus-mvp/engine/semantic"
	"github.com/CorpusAI/corpus-mvp/pkg/fn"
)

// ErrStoreDown is wrapped in the retryable unavailability error returned when
// the pre-flight health probe fails.
var ErrStoreDown = errors.New("health probe failed")

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the vector store the engine reads through.
type Searcher interface {
	VectorSearch(ctx context.Context, embedding []float32, filter *domain.SearchFilter, limit int) ([]semantic.ScoredHit, error)
	KeywordScroll(ctx context.Context, query string, filter *domain.SearchFilter, limit int) ([]semantic.KeywordHit, error)
	Health(ctx context.Context) semantic.Health
}

// Options tunes one search call. Weights need not sum to one; callers may
// over- or under-weight either signal.
type Options struct {
	Limit         int
	VectorWeight  float64
	KeywordWeight float64
}

// DefaultOptions returns the standard limit and fusion weights.
func DefaultOptions() Options {
	return Options{Limit: 10, VectorWeight: 0.7, KeywordWeight: 0.3}
}

// Result is one fused hit. Score is the weighted combination of VectorScore
// and KeywordScore; a result found by only one retrieval mode carries zero
// for the other.
type Result struct {
	ID           string            `json:"id"`
	Text         string            `json:"text"`
	DocumentID   string            `json:"document_id"`
	Score        float64           `json:"score"`
	VectorScore  float64           `json:"vector_score"`
	KeywordScore float64           `json:"keyword_score"`
	Metadata     map[string]string `json:"metadata"`
}

// Engine runs hybrid searches against one store.
type Engine struct {
	embed QueryEmbedder
	store Searcher
	log   *slog.Logger
}

// New creates a hybrid search Engine.
func New(embed QueryEmbedder, store Searcher, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{embed: embed, store: store, log: log}
}

// subResults carries the output of one concurrent sub-search.
type subResults struct {
	vector  []semantic.ScoredHit
	keyword []semantic.KeywordHit
}

// Search embeds the query, runs the vector and keyword sub-searches
// concurrently under the same filter, and rank-fuses the two candidate sets.
// Results are ordered by fused score descending, at most opts.Limit long.
// If either sub-search fails, the whole search fails; an unavailable store
// fails fast with a retryable error before any sub-search runs.
func (e *Engine) Search(ctx context.Context, query string, filter *domain.SearchFilter, opts Options) ([]Result, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return nil, err
	}
	if err := domain.ValidateWeights(opts.VectorWeight, opts.KeywordWeight); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions().Limit
	}

	if h := e.store.Health(ctx); !h.Available {
		return nil, domain.Unavailable("vector store", ErrStoreDown)
	}

	embedding, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("hybrid: embed query: %w", err)
	}

	// Oversample both sub-searches so fusion has enough material to re-rank.
	candidates := 2 * opts.Limit

	pair := fn.FanOutResult(
		func() fn.Result[subResults] {
			hits, err := e.store.VectorSearch(ctx, embedding, filter, candidates)
			if err != nil {
				return fn.Err[subResults](fmt.Errorf("hybrid: vector search: %w", err))
			}
			return fn.Ok(subResults{vector: hits})
		},
		func() fn.Result[subResults] {
			hits, err := e.store.KeywordScroll(ctx, query, filter, candidates)
			if err != nil {
				return fn.Err[subResults](fmt.Errorf("hybrid: keyword search: %w", err))
			}
			return fn.Ok(subResults{keyword: hits})
		},
	)
	subs, err := pair.Unwrap()
	if err != nil {
		return nil, err
	}
	vectorHits, keywordHits := subs[0].vector, subs[1].keyword

	results := fuse(vectorHits, keywordHits, opts)
	e.log.Info("hybrid search done",
		"vector_hits", len(vectorHits),
		"keyword_hits", len(keywordHits),
		"results", len(results),
	)
	return results, nil
}

// fuse merges the two candidate sets into one ranked list. Keyword hits carry
// no store score, so position i of n maps to (n-i)/n.
func fuse(vectorHits []semantic.ScoredHit, keywordHits []semantic.KeywordHit, opts Options) []Result {
	byID := make(map[string]*Result, len(vectorHits)+len(keywordHits))
	ordered := make([]*Result, 0, len(vectorHits)+len(keywordHits))

	for _, h := range vectorHits {
		r := &Result{
			ID:          h.ID,
			Text:        h.Text,
			DocumentID:  h.DocumentID,
			VectorScore: float64(h.Score),
			Metadata:    h.Payload,
		}
		byID[h.ID] = r
		ordered = append(ordered, r)
	}

	n := len(keywordHits)
	for i, h := range keywordHits {
		pos := float64(n-i) / float64(n)
		if r, ok := byID[h.ID]; ok {
			r.KeywordScore = pos
			continue
		}
		r := &Result{
			ID:           h.ID,
			Text:         h.Text,
			DocumentID:   h.DocumentID,
			KeywordScore: pos,
			Metadata:     h.Payload,
		}
		byID[h.ID] = r
		ordered = append(ordered, r)
	}

	for _, r := range ordered {
		r.Score = r.VectorScore*opts.VectorWeight + r.KeywordScore*opts.KeywordWeight
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	if len(ordered) > opts.Limit {
		ordered = ordered[:opts.Limit]
	}
	out := make([]Result, len(ordered))
	for i, r := range ordered {
		out[i] = *r
	}
	return out
}
