package retriever

import (
	"context"
	"math"
	"sort"

	"kbase/internal/adapter/analyzer"
	"kbase/internal/domain"
	"kbase/internal/port"
)

var _ port.Retriever = (*BM25)(nil)

// BM25 retrieves by lexical term match over the persisted postings of one
// user space.
type BM25 struct {
	store    port.MetadataStore
	analyzer *analyzer.Analyzer
	k1       float64
	b        float64
}

func NewBM25(store port.MetadataStore, a *analyzer.Analyzer, k1, b float64) *BM25 {
	if k1 <= 0 {
		k1 = 1.2
	}
	if b <= 0 {
		b = 0.75
	}
	return &BM25{store: store, analyzer: a, k1: k1, b: b}
}

func (r *BM25) Search(ctx context.Context, q domain.Query) ([]domain.ScoredChunk, error) {
	terms := r.analyzer.Tokens(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	stats, err := r.store.GetStats(q.UserID)
	if err != nil {
		return nil, err
	}
	if stats.TotalChunks == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	chunks := make(map[string]domain.Chunk)
	var docKinds map[string]domain.SourceKind
	if q.Filters.Kind != "" {
		docKinds = make(map[string]domain.SourceKind)
	}
	allowedDocs := docIDSet(q.Filters.DocIDs)

	for _, term := range terms {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		postings, err := r.store.GetPostings(q.UserID, term)
		if err != nil {
			continue
		}

		n := float64(len(postings))
		idf := math.Log((float64(stats.TotalChunks)-n+0.5)/(n+0.5) + 1)

		for _, p := range postings {
			chunk, ok := chunks[p.ChunkID]
			if !ok {
				chunk, err = r.store.GetChunk(q.UserID, p.ChunkID)
				if err != nil {
					continue
				}
				chunks[p.ChunkID] = chunk
			}

			if allowedDocs != nil {
				if _, ok := allowedDocs[chunk.DocID]; !ok {
					continue
				}
			}
			if docKinds != nil && !r.kindMatches(q, chunk.DocID, docKinds) {
				continue
			}

			dl := float64(len(chunk.Tokens))
			tf := float64(p.TF)
			scores[p.ChunkID] += idf * (tf * (r.k1 + 1)) / (tf + r.k1*(1-r.b+r.b*dl/stats.AvgChunkLen))
		}
	}

	results := make([]domain.ScoredChunk, 0, len(scores))
	for id, score := range scores {
		results = append(results, domain.ScoredChunk{Chunk: chunks[id], Score: score})
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

func (r *BM25) kindMatches(q domain.Query, docID string, cached map[string]domain.SourceKind) bool {
	kind, ok := cached[docID]
	if !ok {
		doc, err := r.store.GetDocument(q.UserID, docID)
		if err != nil {
			return false
		}
		kind = doc.Kind
		cached[docID] = kind
	}
	return kind == q.Filters.Kind
}

func docIDSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
