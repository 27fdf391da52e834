// Package retriever implements the search strategies over one user space:
// semantic (vector), lexical (BM25) and hybrid (reciprocal rank fusion),
// plus MMR diversity reranking.
package retriever

import (
	"context"
	"fmt"

	"kbase/internal/adapter/cache"
	"kbase/internal/domain"
	"kbase/internal/port"
)

var _ port.Retriever = (*Semantic)(nil)

// Semantic retrieves by embedding similarity through the vector index.
type Semantic struct {
	index    port.VectorIndex
	embedder port.Embedder
	store    port.MetadataStore
	cache    *cache.EmbeddingCache
}

func NewSemantic(index port.VectorIndex, embedder port.Embedder, store port.MetadataStore, c *cache.EmbeddingCache) *Semantic {
	return &Semantic{
		index:    index,
		embedder: embedder,
		store:    store,
		cache:    c,
	}
}

// Search embeds the query, searches the user's partition and resolves the
// hits to chunks. An empty user space yields an empty result, not an
// error.
func (r *Semantic) Search(ctx context.Context, q domain.Query) ([]domain.ScoredChunk, error) {
	vector, err := r.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(q.UserID, vector, q.K, q.Filters)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	chunks := make([]domain.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		chunk, err := r.store.GetChunk(q.UserID, hit.Ref.ChunkID)
		if err != nil {
			// The entry may have been replaced since the search
			// snapshot; skip rather than fail the query.
			continue
		}
		chunks = append(chunks, domain.ScoredChunk{Chunk: chunk, Score: hit.Score})
	}
	return chunks, nil
}

func (r *Semantic) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(r.embedder.ModelName(), text); ok {
			return v, nil
		}
	}

	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	if r.cache != nil {
		r.cache.Put(r.embedder.ModelName(), text, vectors[0])
	}
	return vectors[0], nil
}
