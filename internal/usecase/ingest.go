package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kbase/internal/adapter/analyzer"
	"kbase/internal/adapter/cache"
	"kbase/internal/domain"
	"kbase/internal/port"
)

// Stage is the ingestion state machine position.
type Stage string

const (
	StageReceived    Stage = "received"
	StageNormalizing Stage = "normalizing"
	StageChunking    Stage = "chunking"
	StageEmbedding   Stage = "embedding"
	StageQuantizing  Stage = "quantizing"
	StageIndexing    Stage = "indexing"
	StageCommitted   Stage = "committed"
	StageFailed      Stage = "failed"
)

// IngestRequest is what the ingestion boundary hands over: raw content
// plus identity. ContentHash is optional; it is derived from the raw text
// when absent.
type IngestRequest struct {
	UserID      string
	Kind        domain.SourceKind
	Source      string
	RawText     string
	ContentHash string
}

// Receipt reports the outcome of one ingestion request. Stage is
// StageCommitted or StageFailed; Err carries the originating error for the
// failed case. NoOp marks an unchanged re-ingestion.
type Receipt struct {
	ID     string
	DocID  string
	Stage  Stage
	Chunks int
	NoOp   bool
	Err    error
}

// Ingester runs the content pipeline: normalize → chunk → embed →
// quantize → index, committing metadata and index entries together.
type Ingester struct {
	normalizer port.Normalizer
	chunker    port.Chunker
	embedder   port.Embedder
	index      port.VectorIndex
	store      port.MetadataStore
	analyzer   *analyzer.Analyzer
	cache      *cache.EmbeddingCache
	log        *zap.Logger
}

func NewIngester(
	normalizer port.Normalizer,
	chunker port.Chunker,
	embedder port.Embedder,
	index port.VectorIndex,
	store port.MetadataStore,
	a *analyzer.Analyzer,
	c *cache.EmbeddingCache,
	log *zap.Logger,
) *Ingester {
	return &Ingester{
		normalizer: normalizer,
		chunker:    chunker,
		embedder:   embedder,
		index:      index,
		store:      store,
		analyzer:   a,
		cache:      c,
		log:        log,
	}
}

// Ingest processes one content item. A failure in any stage aborts only
// this document; the returned receipt carries the stage and error. Until
// the commit step a concurrent query sees only the pre-ingestion state,
// and cancellation before commit leaves no visible effect.
func (g *Ingester) Ingest(ctx context.Context, req IngestRequest) *Receipt {
	receipt := &Receipt{
		ID:    uuid.NewString(),
		Stage: StageReceived,
	}
	start := time.Now()

	if !req.Kind.Valid() {
		return g.fail(receipt, StageReceived, fmt.Errorf("%w: unknown source kind %q", domain.ErrUnsupportedContent, req.Kind))
	}
	if req.UserID == "" || req.Source == "" {
		return g.fail(receipt, StageReceived, fmt.Errorf("%w: missing user or source identifier", domain.ErrUnsupportedContent))
	}

	receipt.DocID = DocID(req.Source)
	hash := req.ContentHash
	if hash == "" {
		sum := sha256.Sum256([]byte(req.RawText))
		hash = hex.EncodeToString(sum[:])
	}

	// Unchanged content is a committed no-op: both stores stay
	// byte-for-byte identical.
	if existing, err := g.store.GetDocument(req.UserID, receipt.DocID); err == nil && existing.ContentHash == hash {
		receipt.Stage = StageCommitted
		receipt.NoOp = true
		receipt.Chunks = existing.ChunkCount
		g.log.Debug("ingest no-op, content unchanged",
			zap.String("user", req.UserID),
			zap.String("doc", receipt.DocID))
		return receipt
	}

	receipt.Stage = StageNormalizing
	text, err := g.normalizer.Normalize(req.RawText, req.Kind)
	if err != nil {
		return g.fail(receipt, StageNormalizing, err)
	}

	receipt.Stage = StageChunking
	chunks, err := g.chunker.Chunk(receipt.DocID, text)
	if err != nil {
		return g.fail(receipt, StageChunking, err)
	}
	if len(chunks) == 0 {
		return g.fail(receipt, StageChunking, fmt.Errorf("%w: no chunks produced", domain.ErrUnsupportedContent))
	}
	for i := range chunks {
		chunks[i].Tokens = g.analyzer.Tokens(chunks[i].Text)
	}

	receipt.Stage = StageEmbedding
	vectors, err := g.embedChunks(ctx, chunks)
	if err != nil {
		return g.fail(receipt, StageEmbedding, err)
	}

	// Quantization happens inside the index on insert; validate every
	// vector and build the entry batch here, so the commit below cannot
	// fail after the metadata store has already swapped. A chunk whose
	// vector is all zeros (no embeddable content, e.g. pure punctuation)
	// is dropped from both stores to keep them in lockstep.
	receipt.Stage = StageQuantizing
	dim := g.embedder.Dimension()
	kept := make([]domain.Chunk, 0, len(chunks))
	entries := make([]port.IndexEntry, 0, len(chunks))
	for i, c := range chunks {
		v := vectors[i]
		if len(v) != dim {
			return g.fail(receipt, StageQuantizing, fmt.Errorf("%w: vector dimension %d, expected %d", domain.ErrEmbeddingUnavailable, len(v), dim))
		}
		if !embeddable(v) {
			g.log.Debug("dropping chunk with zero vector",
				zap.String("doc", receipt.DocID),
				zap.String("chunk", c.ID))
			continue
		}
		c.Vector = v
		kept = append(kept, c)
		entries = append(entries, port.IndexEntry{
			Ref:    domain.ChunkRef{DocID: receipt.DocID, ChunkID: c.ID},
			Vector: v,
		})
	}
	if len(kept) == 0 {
		return g.fail(receipt, StageQuantizing, fmt.Errorf("%w: no embeddable chunks", domain.ErrUnsupportedContent))
	}
	chunks = kept

	receipt.Stage = StageIndexing
	if err := g.store.AcquireReplace(req.UserID, receipt.DocID); err != nil {
		return g.fail(receipt, StageIndexing, err)
	}
	defer g.store.ReleaseReplace(req.UserID, receipt.DocID)

	// Last cancellation point: nothing is visible yet.
	if err := ctx.Err(); err != nil {
		return g.fail(receipt, StageIndexing, err)
	}

	doc := domain.Document{
		ID:          receipt.DocID,
		UserID:      req.UserID,
		Kind:        req.Kind,
		Source:      req.Source,
		ContentHash: hash,
		IngestedAt:  time.Now(),
		ChunkCount:  len(chunks),
	}
	if err := g.store.ReplaceDocument(req.UserID, doc, chunks); err != nil {
		return g.fail(receipt, StageIndexing, err)
	}
	if err := g.index.ReplaceDocument(req.UserID, receipt.DocID, req.Kind, entries); err != nil {
		return g.fail(receipt, StageIndexing, err)
	}

	receipt.Stage = StageCommitted
	receipt.Chunks = len(chunks)
	g.log.Info("document ingested",
		zap.String("user", req.UserID),
		zap.String("doc", receipt.DocID),
		zap.String("source", req.Source),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))
	return receipt
}

// Delete removes a document from both stores.
func (g *Ingester) Delete(ctx context.Context, user, docID string) error {
	if err := g.store.AcquireReplace(user, docID); err != nil {
		return err
	}
	defer g.store.ReleaseReplace(user, docID)

	if err := g.store.DeleteDocument(user, docID); err != nil {
		return err
	}
	if err := g.index.DeleteDocument(user, docID); err != nil {
		return err
	}
	g.log.Info("document deleted", zap.String("user", user), zap.String("doc", docID))
	return nil
}

// embedChunks embeds chunk texts, serving repeats from the cache. The
// embedder batches internally; only cache misses reach it.
func (g *Ingester) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	model := g.embedder.ModelName()
	vectors := make([][]float32, len(chunks))

	var missTexts []string
	var missIdx []int
	for i, c := range chunks {
		if g.cache != nil {
			if v, ok := g.cache.Get(model, c.Text); ok {
				vectors[i] = v
				continue
			}
		}
		missTexts = append(missTexts, c.Text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		embedded, err := g.embedder.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(embedded) != len(missTexts) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrEmbeddingUnavailable, len(missTexts), len(embedded))
		}
		for j, v := range embedded {
			vectors[missIdx[j]] = v
			if g.cache != nil {
				g.cache.Put(model, missTexts[j], v)
			}
		}
	}

	return vectors, nil
}

func (g *Ingester) fail(receipt *Receipt, stage Stage, err error) *Receipt {
	receipt.Stage = StageFailed
	receipt.Err = fmt.Errorf("%s: %w", stage, err)
	if !errors.Is(err, context.Canceled) {
		g.log.Warn("ingest failed",
			zap.String("doc", receipt.DocID),
			zap.String("stage", string(stage)),
			zap.Error(err))
	}
	return receipt
}

// embeddable reports whether v has a nonzero norm. The index rejects
// zero vectors (cosine is undefined for them), so they must never reach
// the commit step.
func embeddable(v []float32) bool {
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	return norm2 != 0
}

// DocID derives the stable document id from the source identifier, so
// re-ingesting the same file or URL replaces rather than duplicates.
func DocID(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:8])
}
