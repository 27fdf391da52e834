package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kbase/internal/domain"
	"kbase/internal/port"
)

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	ModeVector  SearchMode = "vector"
	ModeLexical SearchMode = "lexical"
	ModeHybrid  SearchMode = "hybrid"
)

func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(s)) {
	case "", ModeVector:
		return ModeVector, nil
	case ModeLexical:
		return ModeLexical, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown search mode %q", s)
	}
}

// QueryProcessor answers retrieval queries: embed or tokenize the query
// text, search within the requesting user's space, resolve hits against
// stored metadata.
type QueryProcessor struct {
	semantic port.Retriever
	lexical  port.Retriever
	hybrid   port.Retriever
	reranker port.DiversityReranker
	store    port.MetadataStore
	mode     SearchMode
	minScore float64
	log      *zap.Logger
}

func NewQueryProcessor(
	semantic, lexical, hybrid port.Retriever,
	reranker port.DiversityReranker,
	store port.MetadataStore,
	mode SearchMode,
	minScore float64,
	log *zap.Logger,
) *QueryProcessor {
	return &QueryProcessor{
		semantic: semantic,
		lexical:  lexical,
		hybrid:   hybrid,
		reranker: reranker,
		store:    store,
		mode:     mode,
		minScore: minScore,
		log:      log,
	}
}

// Query runs one retrieval request. A user with no ingested content gets
// an empty result, not an error. Cancellation or timeout aborts with the
// context error and no partial result.
func (p *QueryProcessor) Query(ctx context.Context, q domain.Query) (*domain.RetrievalResult, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("missing user id")
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("empty query text")
	}
	if q.K <= 0 {
		q.K = 5
	}

	retriever, err := p.pick()
	if err != nil {
		return nil, err
	}

	// With a reranker the candidate pool is widened so diversity has
	// something to choose from.
	retrieveQ := q
	if p.reranker != nil {
		retrieveQ.K = max(q.K*3, 10)
	}

	scored, err := retriever.Search(ctx, retrieveQ)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.reranker != nil {
		scored = p.reranker.Rerank(scored, q.K)
	} else if len(scored) > q.K {
		scored = scored[:q.K]
	}

	result := &domain.RetrievalResult{Hits: make([]domain.Hit, 0, len(scored))}
	sources := make(map[string]string)
	for _, sc := range scored {
		if p.minScore > 0 && sc.Score < p.minScore {
			continue
		}
		src, ok := sources[sc.Chunk.DocID]
		if !ok {
			doc, err := p.store.GetDocument(q.UserID, sc.Chunk.DocID)
			if err != nil {
				// Document replaced since the hit was scored; drop it.
				continue
			}
			src = doc.Source
			sources[sc.Chunk.DocID] = src
		}
		result.Hits = append(result.Hits, domain.Hit{
			ChunkID: sc.Chunk.ID,
			DocID:   sc.Chunk.DocID,
			Source:  src,
			Score:   sc.Score,
			Text:    sc.Chunk.Text,
		})
	}

	p.log.Debug("query answered",
		zap.String("user", q.UserID),
		zap.String("mode", string(p.mode)),
		zap.Int("hits", len(result.Hits)))
	return result, nil
}

func (p *QueryProcessor) pick() (port.Retriever, error) {
	switch p.mode {
	case ModeVector:
		return p.semantic, nil
	case ModeLexical:
		return p.lexical, nil
	case ModeHybrid:
		return p.hybrid, nil
	default:
		return nil, fmt.Errorf("unknown search mode %q", p.mode)
	}
}
