package semantic

// Payload field names stored on every point.
const (
	FieldText         = "text"
	FieldDocumentID   = "document_id"
	FieldSource       = "source"
	FieldTitle        = "title"
	FieldAuthor       = "author"
	FieldDocumentType = "document_type"
	FieldDomainID     = "domain_id"
	FieldTopicID      = "topic_id"
	FieldTags         = "tags"
	FieldLanguage     = "language"
	FieldChunkIndex   = "chunk_index"
	FieldTotalChunks  = "total_chunks"
	FieldIngestedAt   = "ingested_at"
)

// VectorRecord represents a single point to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// ScoredHit is a single vector similarity hit.
type ScoredHit struct {
	ID         string            `json:"id"`
	Score      float32           `json:"score"`
	Text       string            `json:"text"`
	DocumentID string            `json:"document_id"`
	Payload    map[string]string `json:"payload"`
}

// KeywordHit is a full-text scroll hit. Hits arrive in the store's relevance
// order; no numeric score is exposed.
type KeywordHit struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	DocumentID string            `json:"document_id"`
	Payload    map[string]string `json:"payload"`
}

// Health reports store availability and collection size.
type Health struct {
	Available     bool   `json:"available"`
	DocumentCount uint64 `json:"document_count"`
}
