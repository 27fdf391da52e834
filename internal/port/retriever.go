package port

import (
	"context"

	"kbase/internal/domain"
)

// Retriever searches one user space for chunks matching a query.
type Retriever interface {
	Search(ctx context.Context, q domain.Query) ([]domain.ScoredChunk, error)
}

// DiversityReranker reorders scored chunks to reduce near-duplicates in
// the top results.
type DiversityReranker interface {
	Rerank(chunks []domain.ScoredChunk, k int) []domain.ScoredChunk
}
