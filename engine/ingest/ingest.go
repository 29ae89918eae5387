// Package ingest provides the ingestion pipeline that takes a raw document
// through validation, chunking, embedding, and storage. Either every chunk of
// a document is embedded and upserted, or none are.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CorpusAI/corpus-mvp/engine/chunker"
	"github.com/CorpusAI/corpus-mvp/engine/domain"
	"github.com/CorpusAI/corpus-mvp/engine/semantic"
	"github.com/CorpusAI/corpus-mvp/pkg/fn"
)

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder Embedder
	Store    VectorWriter
	Logger   *slog.Logger

	// ChunkSize and ChunkOverlap default to the standard ingestion profile.
	ChunkSize    int
	ChunkOverlap int

	// Now is substituted in tests; defaults to time.Now.
	Now func() time.Time
}

// --- Pipeline stages ---

// Validate rejects documents that would produce zero chunks.
var Validate fn.Stage[Document, Document] = func(_ context.Context, doc Document) fn.Result[Document] {
	if err := domain.ValidateDocument(doc.Text); err != nil {
		return fn.Err[Document](err)
	}
	return fn.Ok(doc)
}

// NewChunk creates the chunking stage. A document that chunks to nothing is a
// validation failure, not an empty success.
func NewChunk(size, overlap int) fn.Stage[Document, ChunkedDocument] {
	return func(_ context.Context, doc Document) fn.Result[ChunkedDocument] {
		chunks, err := chunker.Split(doc.Text, size, overlap)
		if err != nil {
			return fn.Err[ChunkedDocument](err)
		}
		if len(chunks) == 0 {
			return fn.Err[ChunkedDocument](domain.NewValidationError("text", "", domain.ErrEmptyDocument))
		}
		return fn.Ok(ChunkedDocument{Document: doc, Chunks: chunks})
	}
}

// NewEmbed creates the embedding stage. All chunk texts go out as one logical
// batch; the Embedder sub-batches at its provider limit and preserves order.
func NewEmbed(e Embedder) fn.Stage[ChunkedDocument, EmbeddedDocument] {
	return func(ctx context.Context, doc ChunkedDocument) fn.Result[EmbeddedDocument] {
		texts := fn.Map(doc.Chunks, func(c chunker.Chunk) string { return c.Text })
		vectors, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return fn.Err[EmbeddedDocument](fmt.Errorf("embed batch: %w", err))
		}
		if len(vectors) != len(doc.Chunks) {
			return fn.Err[EmbeddedDocument](fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vectors), len(doc.Chunks)))
		}
		return fn.Ok(EmbeddedDocument{ChunkedDocument: doc, Embeddings: vectors})
	}
}

// NewStore creates the storage stage. It assigns the document id shared by
// all chunks and upserts every point in a single wait-for-persistence call.
func NewStore(w VectorWriter, now func() time.Time) fn.Stage[EmbeddedDocument, Receipt] {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, doc EmbeddedDocument) fn.Result[Receipt] {
		docID := uuid.New().String()
		ingestedAt := now().UTC().Format(time.RFC3339)

		records := make([]semantic.VectorRecord, len(doc.Chunks))
		for i, c := range doc.Chunks {
			// Point ids are derived from the document id and ordinal, so a
			// re-upsert of the same document id overwrites its chunks.
			pointID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, c.Ordinal))).String()
			records[i] = semantic.VectorRecord{
				ID:        pointID,
				Embedding: doc.Embeddings[i],
				Payload:   chunkPayload(c, doc.Meta, docID, ingestedAt),
			}
		}
		if err := w.Upsert(ctx, records); err != nil {
			return fn.Err[Receipt](domain.Unavailable("vector store", fmt.Errorf("upsert: %w", err)))
		}
		return fn.Ok(Receipt{DocumentID: docID, ChunksCreated: len(doc.Chunks)})
	}
}

// chunkPayload builds the stored payload: chunk text and ordinals, the shared
// document id, and every populated metadata field.
func chunkPayload(c chunker.Chunk, meta domain.Metadata, docID, ingestedAt string) map[string]any {
	payload := map[string]any{
		semantic.FieldText:        c.Text,
		semantic.FieldDocumentID:  docID,
		semantic.FieldChunkIndex:  c.Ordinal,
		semantic.FieldTotalChunks: c.Total,
		semantic.FieldIngestedAt:  ingestedAt,
	}
	for field, val := range map[string]string{
		semantic.FieldSource:       meta.Source,
		semantic.FieldTitle:        meta.Title,
		semantic.FieldAuthor:       meta.Author,
		semantic.FieldDocumentType: meta.DocumentType,
		semantic.FieldDomainID:     meta.DomainID,
		semantic.FieldTopicID:      meta.TopicID,
		semantic.FieldLanguage:     meta.Language,
	} {
		if val != "" {
			payload[field] = val
		}
	}
	if len(meta.Tags) > 0 {
		payload[semantic.FieldTags] = meta.Tags
	}
	for k, v := range meta.Extra {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	return payload
}

// LoggedTap returns a stage that logs entry and exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[Document, Receipt] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	size := deps.ChunkSize
	if size <= 0 {
		size = chunker.DefaultChunkSize
	}
	overlap := deps.ChunkOverlap
	if overlap <= 0 {
		overlap = chunker.DefaultOverlap
	}

	validated := fn.Then(LoggedTap[Document]("validate", log), Validate)
	chunked := fn.Then(validated, fn.Then(LoggedTap[Document]("chunk", log), NewChunk(size, overlap)))
	embedded := fn.Then(chunked, fn.Then(LoggedTap[ChunkedDocument]("embed", log), NewEmbed(deps.Embedder)))
	return fn.Then(embedded, fn.Then(LoggedTap[EmbeddedDocument]("store", log), NewStore(deps.Store, deps.Now)))
}

// Service runs documents through the ingestion pipeline.
type Service struct {
	pipeline fn.Stage[Document, Receipt]
	log      *slog.Logger
}

// NewService creates an ingestion Service.
func NewService(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{pipeline: NewPipeline(deps), log: log}
}

// Ingest chunks, embeds, and stores one document, returning the fresh
// document id shared by all of its chunks.
func (s *Service) Ingest(ctx context.Context, text string, meta domain.Metadata) (Receipt, error) {
	result := s.pipeline(ctx, Document{Text: text, Meta: meta})
	receipt, err := result.Unwrap()
	if err != nil {
		return Receipt{}, err
	}
	s.log.Info("ingest: success", "document_id", receipt.DocumentID, "chunks", receipt.ChunksCreated)
	return receipt, nil
}
