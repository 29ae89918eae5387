package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
	"github.com/CorpusAI/corpus-mvp/engine/hybrid"
	"github.com/CorpusAI/corpus-mvp/engine/ingest"
	"github.com/CorpusAI/corpus-mvp/engine/semantic"
	"github.com/CorpusAI/corpus-mvp/pkg/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIngester struct {
	receipt ingest.Receipt
	err     error
	gotText string
	gotMeta domain.Metadata
}

func (f *fakeIngester) Ingest(_ context.Context, text string, meta domain.Metadata) (ingest.Receipt, error) {
	f.gotText = text
	f.gotMeta = meta
	return f.receipt, f.err
}

type fakeSearcher struct {
	results   []hybrid.Result
	err       error
	gotQuery  string
	gotFilter *domain.SearchFilter
	gotOpts   hybrid.Options
}

func (f *fakeSearcher) Search(_ context.Context, query string, filter *domain.SearchFilter, opts hybrid.Options) ([]hybrid.Result, error) {
	f.gotQuery = query
	f.gotFilter = filter
	f.gotOpts = opts
	return f.results, f.err
}

type fakeDeleter struct {
	deleted uint64
	err     error
}

func (f *fakeDeleter) DeleteByFilter(_ context.Context, _ *domain.SearchFilter) (uint64, error) {
	return f.deleted, f.err
}

type fakeProber struct{ health semantic.Health }

func (f *fakeProber) Health(_ context.Context) semantic.Health { return f.health }

func TestHandleHealth(t *testing.T) {
	h := handleHealth(&fakeProber{health: semantic.Health{Available: true, DocumentCount: 42}})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["document_count"] != float64(42) {
		t.Errorf("document_count = %v", body["document_count"])
	}
}

func TestHandleHealthDegraded(t *testing.T) {
	h := handleHealth(&fakeProber{health: semantic.Health{Available: false}})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	svc := &fakeIngester{receipt: ingest.Receipt{DocumentID: "doc-1", ChunksCreated: 3}}
	h := handleIngest(svc, metrics.New(), testLogger())

	body := `{"text":"some document text","metadata":{"source":"manual","tags":["a","b"]}}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/ingest", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.gotText != "some document text" {
		t.Errorf("text = %q", svc.gotText)
	}
	if svc.gotMeta.Source != "manual" || len(svc.gotMeta.Tags) != 2 {
		t.Errorf("meta = %+v", svc.gotMeta)
	}
	var receipt ingest.Receipt
	json.NewDecoder(rec.Body).Decode(&receipt)
	if receipt.DocumentID != "doc-1" || receipt.ChunksCreated != 3 {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestHandleIngestBadBody(t *testing.T) {
	h := handleIngest(&fakeIngester{}, metrics.New(), testLogger())
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/ingest", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleIngestValidationError(t *testing.T) {
	svc := &fakeIngester{err: domain.NewValidationError("text", "", domain.ErrEmptyDocument)}
	h := handleIngest(svc, metrics.New(), testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/ingest", strings.NewReader(`{"text":"   "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleIngestUnavailable(t *testing.T) {
	svc := &fakeIngester{err: domain.Unavailable("vector store", errors.New("dial refused"))}
	h := handleIngest(svc, metrics.New(), testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/ingest", strings.NewReader(`{"text":"x"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	eng := &fakeSearcher{results: []hybrid.Result{
		{ID: "p1", Text: "hit one", Score: 0.9},
		{ID: "p2", Text: "hit two", Score: 0.4},
	}}
	h := handleSearch(eng, metrics.New(), testLogger())

	body := `{"query":"relay wiring","filter":{"source":"manual"},"limit":5}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if eng.gotQuery != "relay wiring" {
		t.Errorf("query = %q", eng.gotQuery)
	}
	if eng.gotFilter == nil || eng.gotFilter.Source != "manual" {
		t.Errorf("filter = %+v", eng.gotFilter)
	}
	if eng.gotOpts.Limit != 5 {
		t.Errorf("limit = %d, want 5", eng.gotOpts.Limit)
	}
	// Unset weights fall back to defaults.
	if eng.gotOpts.VectorWeight != 0.7 || eng.gotOpts.KeywordWeight != 0.3 {
		t.Errorf("weights = %v/%v, want defaults", eng.gotOpts.VectorWeight, eng.gotOpts.KeywordWeight)
	}

	var resp SearchResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Count != 2 || len(resp.Results) != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleSearchCustomWeights(t *testing.T) {
	eng := &fakeSearcher{}
	h := handleSearch(eng, metrics.New(), testLogger())

	body := `{"query":"q","vector_weight":1.0,"keyword_weight":0.0}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader(body)))

	if eng.gotOpts.VectorWeight != 1.0 || eng.gotOpts.KeywordWeight != 0.0 {
		t.Errorf("weights = %v/%v, want 1.0/0.0", eng.gotOpts.VectorWeight, eng.gotOpts.KeywordWeight)
	}
}

func TestHandleSearchEmptyResults(t *testing.T) {
	h := handleSearch(&fakeSearcher{}, metrics.New(), testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader(`{"query":"nothing"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// nil results serialize as an empty array, not null.
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleSearchStoreDown(t *testing.T) {
	eng := &fakeSearcher{err: domain.Unavailable("vector store", hybrid.ErrStoreDown)}
	h := handleSearch(eng, metrics.New(), testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/search", strings.NewReader(`{"query":"q"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleDelete(t *testing.T) {
	h := handleDelete(&fakeDeleter{deleted: 17}, metrics.New(), testLogger())

	body := `{"filter":{"document_type":"obsolete"}}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/documents/delete", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]uint64
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["deleted"] != 17 {
		t.Errorf("deleted = %d, want 17", resp["deleted"])
	}
}

func TestHandleDeleteEmptyFilter(t *testing.T) {
	d := &fakeDeleter{err: domain.NewValidationError("filter", "", domain.ErrEmptyFilter)}
	h := handleDelete(d, metrics.New(), testLogger())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/api/documents/delete", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "QDRANT_COLLECTION", "EMBED_DIMS"} {
		t.Setenv(key, "")
	}
	cfg := loadConfig()
	if cfg.Port != "8080" || cfg.Collection != "corpus" || cfg.EmbedDims != 768 {
		t.Errorf("config = %+v", cfg)
	}
}
