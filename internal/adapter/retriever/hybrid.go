package retriever

import (
	"context"
	"sort"

	"kbase/internal/domain"
	"kbase/internal/port"
)

var _ port.Retriever = (*Hybrid)(nil)

// Hybrid fuses semantic and lexical rankings with reciprocal rank fusion.
// RRF works on ranks, not raw scores, so the two scales need no
// calibration.
type Hybrid struct {
	semantic      port.Retriever
	lexical       port.Retriever
	rrfK          int
	lexicalWeight float64
}

func NewHybrid(semantic, lexical port.Retriever, rrfK int, lexicalWeight float64) *Hybrid {
	if rrfK <= 0 {
		rrfK = 60
	}
	if lexicalWeight < 0 || lexicalWeight > 1 {
		lexicalWeight = 0.5
	}
	return &Hybrid{
		semantic:      semantic,
		lexical:       lexical,
		rrfK:          rrfK,
		lexicalWeight: lexicalWeight,
	}
}

func (r *Hybrid) Search(ctx context.Context, q domain.Query) ([]domain.ScoredChunk, error) {
	// Widen the candidate pool so fusion has something to fuse.
	wide := q
	wide.K = max(q.K*3, 20)

	semRes, err := r.semantic.Search(ctx, wide)
	if err != nil {
		return nil, err
	}
	lexRes, err := r.lexical.Search(ctx, wide)
	if err != nil {
		return nil, err
	}

	type fused struct {
		chunk domain.Chunk
		score float64
	}
	byID := make(map[string]*fused)

	add := func(results []domain.ScoredChunk, weight float64) {
		for rank, sc := range results {
			f := byID[sc.Chunk.ID]
			if f == nil {
				f = &fused{chunk: sc.Chunk}
				byID[sc.Chunk.ID] = f
			}
			f.score += weight / float64(r.rrfK+rank+1)
		}
	}
	add(semRes, 1-r.lexicalWeight)
	add(lexRes, r.lexicalWeight)

	results := make([]domain.ScoredChunk, 0, len(byID))
	for _, f := range byID {
		results = append(results, domain.ScoredChunk{Chunk: f.chunk, Score: f.score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, nil
}
