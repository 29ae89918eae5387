package domain

import (
	"fmt"
	"strings"
)

// ValidateChunking checks the chunker parameters.
func ValidateChunking(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return NewValidationError("chunk_size", fmt.Sprintf("%d", chunkSize), ErrBadChunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return NewValidationError("chunk_overlap", fmt.Sprintf("%d", chunkOverlap), ErrOverlapTooLarge)
	}
	return nil
}

// ValidateDocument checks document text before ingestion.
func ValidateDocument(text string) error {
	if strings.TrimSpace(text) == "" {
		return NewValidationError("text", "", ErrEmptyDocument)
	}
	return nil
}

// ValidateQuery checks a search query.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return NewValidationError("query", "", ErrEmptyQuery)
	}
	return nil
}

// ValidateWeights checks hybrid fusion weights. Weights need not sum to one,
// but negative values would invert the ranking.
func ValidateWeights(vectorWeight, keywordWeight float64) error {
	if vectorWeight < 0 {
		return NewValidationError("vector_weight", fmt.Sprintf("%g", vectorWeight), ErrBadWeights)
	}
	if keywordWeight < 0 {
		return NewValidationError("keyword_weight", fmt.Sprintf("%g", keywordWeight), ErrBadWeights)
	}
	return nil
}

// ValidateDeleteFilter rejects an empty filter so a filtered delete can never
// wipe the whole collection by accident.
func ValidateDeleteFilter(f *SearchFilter) error {
	if f.IsZero() {
		return NewValidationError("filter", "{}", ErrEmptyFilter)
	}
	return nil
}
