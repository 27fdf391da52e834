// Package chunk splits normalized text into bounded, overlapping passages,
// breaking at sentence and paragraph boundaries when one is in reach.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"unicode"

	"kbase/internal/domain"
)

// Span is one chunk's rune range within the source text.
type Span struct {
	Start int
	End   int
}

// Splitter produces chunks of at most maxSize runes with up to overlap
// runes shared between consecutive chunks.
type Splitter struct {
	maxSize        int
	overlap        int
	boundaryWindow int
}

// NewSplitter validates the configuration. overlap >= maxSize cannot make
// progress and is rejected with domain.ErrChunking.
func NewSplitter(maxSize, overlap, boundaryWindow int) (*Splitter, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size %d", domain.ErrChunking, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("%w: overlap %d with max chunk size %d", domain.ErrChunking, overlap, maxSize)
	}
	if boundaryWindow < 0 {
		boundaryWindow = 0
	}
	return &Splitter{
		maxSize:        maxSize,
		overlap:        overlap,
		boundaryWindow: boundaryWindow,
	}, nil
}

// Spans yields the chunk spans of text lazily, in order. The sequence is
// finite and restartable: iterating twice yields identical spans.
func (s *Splitter) Spans(text string) iter.Seq[Span] {
	runes := []rune(text)
	return func(yield func(Span) bool) {
		start := 0
		for start < len(runes) {
			// The tail always fits in one final chunk.
			if len(runes)-start <= s.maxSize {
				yield(Span{Start: start, End: len(runes)})
				return
			}

			end := start + s.maxSize
			if cut := s.findBoundary(runes, start, end); cut > start {
				end = cut
			}

			if !yield(Span{Start: start, End: end}) {
				return
			}

			next := end - s.overlap
			if next <= start {
				next = end
			}
			start = next
		}
	}
}

// Chunk materializes the spans of text into domain chunks with
// deterministic ids. Empty text yields no chunks.
func (s *Splitter) Chunk(docID, text string) ([]domain.Chunk, error) {
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	var chunks []domain.Chunk
	ordinal := 0
	for span := range s.Spans(text) {
		chunks = append(chunks, domain.Chunk{
			ID:      chunkID(docID, ordinal, span),
			DocID:   docID,
			Ordinal: ordinal,
			Start:   span.Start,
			End:     span.End,
			Text:    string(runes[span.Start:span.End]),
		})
		ordinal++
	}
	return chunks, nil
}

// findBoundary looks backward from the hard limit for the best break
// position within the boundary window: a paragraph break, then a line
// break, then a sentence end. Returns 0 when no boundary is usable.
func (s *Splitter) findBoundary(runes []rune, start, limit int) int {
	lowest := limit - s.boundaryWindow
	if lowest <= start {
		lowest = start + 1
	}

	bestSentence := 0
	for i := limit; i >= lowest; i-- {
		if runes[i-1] == '\n' {
			// Line or paragraph break; both beat a sentence end,
			// and the rightmost one wins.
			return i
		}
		if bestSentence == 0 && i >= 2 && isSentenceEnd(runes[i-2]) && unicode.IsSpace(runes[i-1]) {
			bestSentence = i
		}
	}
	return bestSentence
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func chunkID(docID string, ordinal int, span Span) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d-%d", docID, ordinal, span.Start, span.End)))
	return hex.EncodeToString(sum[:8])
}
