package port

import "kbase/internal/domain"

// IndexHit is one match returned by a vector index search.
type IndexHit struct {
	Ref   domain.ChunkRef
	Score float64
}

// IndexEntry is one (chunk ref, dense vector) pair handed to the index.
// The index quantizes vectors on insert.
type IndexEntry struct {
	Ref    domain.ChunkRef
	Vector []float32
}

// VectorIndex is a per-user-space approximate nearest neighbor index over
// quantized vectors. Operations on different user spaces never block each
// other; within a user space, searches run concurrently with inserts and
// deletes of other chunk refs.
type VectorIndex interface {
	// Insert adds or replaces the entry for ref.
	Insert(user string, ref domain.ChunkRef, kind domain.SourceKind, vector []float32) error

	// Delete removes the entry for ref. A subsequent search never
	// returns it.
	Delete(user string, ref domain.ChunkRef) error

	// DeleteDocument removes all entries belonging to docID atomically
	// with respect to searches in the same user space.
	DeleteDocument(user string, docID string) error

	// ReplaceDocument atomically removes all entries of docID and inserts
	// entries in their place: a concurrent search sees the old set or the
	// new set, never a mix.
	ReplaceDocument(user string, docID string, kind domain.SourceKind, entries []IndexEntry) error

	// Search returns up to k hits ordered by descending similarity,
	// restricted to entries matching f. An empty or unknown user space
	// yields an empty result, not an error.
	Search(user string, query []float32, k int, f domain.Filters) ([]IndexHit, error)
}
