package retriever

import (
	"kbase/internal/domain"
	"kbase/internal/port"
)

var _ port.DiversityReranker = (*MMR)(nil)

// MMR applies Maximal Marginal Relevance over chunk token sets:
// MMR(c) = λ*relevance(c) - (1-λ)*max_similarity(c, selected).
type MMR struct {
	lambda       float64
	dedupJaccard float64
}

func NewMMR(lambda, dedupJaccard float64) *MMR {
	return &MMR{lambda: lambda, dedupJaccard: dedupJaccard}
}

// Rerank selects up to k diverse results from candidates, which arrive
// ordered by relevance.
func (r *MMR) Rerank(candidates []domain.ScoredChunk, k int) []domain.ScoredChunk {
	if len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	maxScore := candidates[0].Score
	for _, c := range candidates {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	if maxScore == 0 {
		maxScore = 1
	}

	selected := make([]domain.ScoredChunk, 0, k)
	remaining := make([]domain.ScoredChunk, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestMMR := -1e9

		for i, candidate := range remaining {
			relevance := candidate.Score / maxScore

			maxSim := 0.0
			for _, sel := range selected {
				if sim := jaccard(candidate.Chunk.Tokens, sel.Chunk.Tokens); sim > maxSim {
					maxSim = sim
				}
			}
			if maxSim > r.dedupJaccard {
				continue // near-duplicate of something already picked
			}

			if mmr := r.lambda*relevance - (1-r.lambda)*maxSim; mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			break
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
