// Package vecindex implements the per-user-space approximate nearest
// neighbor index. Each user space is an independent partition; partitions
// never contend with each other. Vectors are stored quantized and scored
// in code space; larger partitions are coarsely clustered (IVF) so search
// effort is spent on the most promising lists.
package vecindex

import (
	"fmt"
	"slices"
	"sync"

	"kbase/internal/adapter/quant"
	"kbase/internal/domain"
	"kbase/internal/port"
)

// compile-time interface check
var _ port.VectorIndex = (*Index)(nil)

// Options configures the index.
type Options struct {
	// ProbeEffort is the number of IVF lists inspected per search. Higher
	// effort raises recall monotonically; at or above the list count the
	// search is exhaustive.
	ProbeEffort int

	// TrainThreshold is the partition size at which coarse clustering
	// kicks in. Below it every search scans the whole partition.
	TrainThreshold int
}

// DefaultOptions are sized for personal knowledge bases: a few thousand
// chunks per user.
var DefaultOptions = Options{
	ProbeEffort:    8,
	TrainThreshold: 256,
}

// Index maps user ids to their partitions.
type Index struct {
	mu    sync.RWMutex
	parts map[string]*partition

	quantizer quant.Quantizer
	opts      Options
}

// New creates an index over the given quantizer.
func New(q quant.Quantizer, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ProbeEffort < 1 {
		opts.ProbeEffort = 1
	}
	return &Index{
		parts:     make(map[string]*partition),
		quantizer: q,
		opts:      opts,
	}
}

// Insert adds or replaces the entry for ref in user's partition.
func (ix *Index) Insert(user string, ref domain.ChunkRef, kind domain.SourceKind, vector []float32) error {
	code, err := ix.encode(vector)
	if err != nil {
		return err
	}
	p := ix.partition(user, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(ix.quantizer, ref, kind, code)
	p.maybeTrainLocked(ix.quantizer)
	return nil
}

// Delete removes the entry for ref. Unknown refs are a no-op: the caller's
// intent (entry absent) already holds.
func (ix *Index) Delete(user string, ref domain.ChunkRef) error {
	p := ix.partition(user, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteLocked(ref)
	return nil
}

// DeleteDocument removes every entry of docID in one critical section.
func (ix *Index) DeleteDocument(user string, docID string) error {
	p := ix.partition(user, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteDocLocked(docID)
	return nil
}

// ReplaceDocument swaps docID's entries atomically: searches observe the
// old set or the new set, never a mix.
func (ix *Index) ReplaceDocument(user string, docID string, kind domain.SourceKind, entries []port.IndexEntry) error {
	codes := make([]quant.Code, len(entries))
	for i, e := range entries {
		code, err := ix.encode(e.Vector)
		if err != nil {
			return err
		}
		codes[i] = code
	}

	p := ix.partition(user, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteDocLocked(docID)
	for i, e := range entries {
		p.insertLocked(ix.quantizer, e.Ref, kind, codes[i])
	}
	p.maybeTrainLocked(ix.quantizer)
	return nil
}

// Search returns up to k hits ordered by descending similarity, ties
// broken by insertion recency (most recent first). An unknown or empty
// user space yields an empty result.
func (ix *Index) Search(user string, query []float32, k int, f domain.Filters) ([]port.IndexHit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(query) != ix.quantizer.Dimension() {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", ix.quantizer.Dimension(), len(query))
	}

	p := ix.partition(user, false)
	if p == nil {
		return nil, nil
	}

	q := slices.Clone(query)
	quant.NormalizeL2(q)
	qcode := ix.quantizer.Encode(q)

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.searchLocked(ix.quantizer, q, qcode, k, f, ix.opts.ProbeEffort), nil
}

// encode normalizes (cosine via unit vectors and dot product) and
// quantizes a vector.
func (ix *Index) encode(vector []float32) (quant.Code, error) {
	if len(vector) != ix.quantizer.Dimension() {
		return quant.Code{}, fmt.Errorf("vector dimension mismatch: expected %d, got %d", ix.quantizer.Dimension(), len(vector))
	}
	v := slices.Clone(vector)
	if !quant.NormalizeL2(v) {
		return quant.Code{}, fmt.Errorf("cannot index zero vector")
	}
	return ix.quantizer.Encode(v), nil
}

func (ix *Index) partition(user string, create bool) *partition {
	ix.mu.RLock()
	p := ix.parts[user]
	ix.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if p = ix.parts[user]; p == nil {
		p = newPartition(ix.opts.TrainThreshold)
		ix.parts[user] = p
	}
	return p
}
