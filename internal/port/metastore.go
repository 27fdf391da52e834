package port

import "kbase/internal/domain"

// MetadataStore tracks documents, chunks and lexical postings per user
// space. ReplaceDocument is atomic with respect to readers: a query never
// observes a document with chunks from two versions.
type MetadataStore interface {
	// AcquireReplace claims the per-document replace guard. A second
	// concurrent claim for the same (user, docID) returns
	// domain.ErrConflict.
	AcquireReplace(user, docID string) error

	// ReleaseReplace releases the guard claimed by AcquireReplace.
	ReleaseReplace(user, docID string)

	// ReplaceDocument swaps the document and all of its chunks and
	// postings in one transaction. The caller must hold the replace
	// guard.
	ReplaceDocument(user string, doc domain.Document, chunks []domain.Chunk) error

	GetDocument(user, docID string) (domain.Document, error)

	ListDocuments(user string) ([]domain.Document, error)

	// DeleteDocument removes the document, its chunks and postings.
	// Returns domain.ErrNotFound for an unknown id.
	DeleteDocument(user, docID string) error

	GetChunk(user, chunkID string) (domain.Chunk, error)

	GetChunksByDoc(user, docID string) ([]domain.Chunk, error)

	GetPostings(user, term string) ([]domain.Posting, error)

	GetStats(user string) (domain.Stats, error)

	// ForEachVector streams the stored embedding of every live chunk in
	// the user's space, in unspecified order. Used to rebuild the vector
	// index on startup.
	ForEachVector(user string, fn func(ref domain.ChunkRef, vector []float32) error) error

	Close() error
}
