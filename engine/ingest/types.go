package ingest

import (
	"context"

	"github.com/CorpusAI/corpus-mvp/engine/chunker"
	"github.com/CorpusAI/corpus-mvp/engine/domain"
	"github.com/CorpusAI/corpus-mvp/engine/semantic"
)

// Document is the ingestion input: opaque text plus its metadata bag. It
// exists only transiently; after ingestion the store holds the chunks.
type Document struct {
	Text string          `json:"text"`
	Meta domain.Metadata `json:"metadata"`
}

// ChunkedDocument is a document split into embeddable chunks.
type ChunkedDocument struct {
	Document
	Chunks []chunker.Chunk
}

// EmbeddedDocument is a chunked document with one vector per chunk, in chunk
// order.
type EmbeddedDocument struct {
	ChunkedDocument
	Embeddings [][]float32
}

// Receipt is the ingestion result.
type Receipt struct {
	DocumentID    string `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
}

// Embedder turns text into fixed-length vectors. EmbedBatch must return one
// vector per input in input order, regardless of any internal sub-batching.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// VectorWriter is the slice of the vector store the pipeline writes through.
type VectorWriter interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}
