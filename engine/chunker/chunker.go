// Package chunker splits raw document text into bounded, overlapping chunks
// using a separator hierarchy. Splitting prefers structural boundaries
// (paragraphs, lines, sentences) and only degrades to word or character level
// when a piece is too large to fit a chunk.
package chunker

import (
	"strings"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
)

const (
	// DefaultChunkSize is the ingestion default chunk length in characters.
	DefaultChunkSize = 500
	// DefaultOverlap is the ingestion default overlap in characters.
	DefaultOverlap = 50
	// LongDocChunkSize is the long-document profile chunk length.
	LongDocChunkSize = 2000
	// LongDocOverlap is the long-document profile overlap.
	LongDocOverlap = 300
)

// DefaultSeparators is the separator hierarchy, ordered most-to-least
// structural. The trailing empty string is the character-level fallback.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

// Chunk is a bounded substring of a source document, the unit of embedding
// and storage. Start and End are byte offsets into the original text of the
// trimmed chunk, so End-Start == len(Text). Offsets are -1 when the chunk
// text cannot be located in the original (never the case for verbatim splits).
type Chunk struct {
	Text    string
	Ordinal int
	Total   int
	Start   int
	End     int
}

// Split chunks text with the default separator hierarchy.
// chunkOverlap must be smaller than chunkSize. An empty input yields zero
// chunks and no error; callers decide whether that is a failure.
func Split(text string, chunkSize, chunkOverlap int) ([]Chunk, error) {
	return SplitWithSeparators(text, chunkSize, chunkOverlap, DefaultSeparators)
}

// SplitWithSeparators chunks text using a caller-supplied separator hierarchy.
func SplitWithSeparators(text string, chunkSize, chunkOverlap int, separators []string) ([]Chunk, error) {
	if err := domain.ValidateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	raw := splitRecursive(text, chunkSize, chunkOverlap, separators)
	return assemble(text, raw), nil
}

// splitRecursive produces the ordered raw chunk strings for one tier of the
// separator hierarchy, recursing into lower tiers for oversized pieces.
func splitRecursive(text string, chunkSize, chunkOverlap int, separators []string) []string {
	if text == "" {
		return nil
	}

	// Pick the first separator that occurs in the text; the empty string
	// (character level) always matches.
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	pieces := splitKeep(text, sep)

	var out []string
	var run []string
	runLen := 0

	flush := func() {
		if len(run) > 0 {
			out = append(out, strings.Join(run, ""))
		}
	}

	for _, p := range pieces {
		if len(p) > chunkSize {
			// A single piece cannot be merged; split it on the lower tiers.
			// If no tier remains, emit it oversized rather than lose content.
			flush()
			run, runLen = nil, 0
			if len(rest) > 0 {
				out = append(out, splitRecursive(p, chunkSize, chunkOverlap, rest)...)
			} else {
				out = append(out, p)
			}
			continue
		}
		if runLen+len(p) > chunkSize && runLen > 0 {
			flush()
			// Retain trailing pieces up to chunkOverlap characters so the
			// next chunk starts with the tail of this one.
			for runLen > chunkOverlap || (runLen+len(p) > chunkSize && runLen > 0) {
				runLen -= len(run[0])
				run = run[1:]
			}
		}
		run = append(run, p)
		runLen += len(p)
	}
	flush()
	return out
}

// splitKeep splits text on sep with the separator re-attached to the end of
// each piece, so joining the pieces reproduces the input. An empty separator
// splits into individual characters.
func splitKeep(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	// SplitAfter leaves a trailing empty piece when text ends with sep.
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// assemble trims the raw chunk strings, drops empties, and computes ordinals
// and character offsets. Each chunk is located after a cursor left just past
// the previous chunk's start, so an earlier duplicate substring is never
// matched while overlap regions remain findable.
func assemble(original string, raw []string) []Chunk {
	chunks := make([]Chunk, 0, len(raw))
	cursor := 0
	for _, r := range raw {
		t := strings.TrimSpace(r)
		if t == "" {
			continue
		}
		start := -1
		if pos := strings.Index(original[cursor:], t); pos >= 0 {
			start = cursor + pos
			cursor = start + 1
		}
		end := -1
		if start >= 0 {
			end = start + len(t)
		}
		chunks = append(chunks, Chunk{Text: t, Start: start, End: end})
	}
	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].Total = len(chunks)
	}
	return chunks
}
