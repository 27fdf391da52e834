package port

import "kbase/internal/domain"

// Chunker splits normalized text into an ordered sequence of bounded,
// overlapping chunks. Chunking is idempotent given identical input and
// configuration.
type Chunker interface {
	Chunk(docID, text string) ([]domain.Chunk, error)
}
