package domain

import "time"

// SourceKind identifies where a document came from.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourceFile || k == SourceURL
}

// Document is one ingested source unit: an uploaded file or a scraped URL.
// Documents are never mutated in place; re-ingestion replaces the whole
// document and its chunks.
type Document struct {
	ID          string
	UserID      string
	Kind        SourceKind
	Source      string // filename or URL
	ContentHash string
	IngestedAt  time.Time
	ChunkCount  int
}

// Chunk is a bounded span of a document's normalized text, the atomic unit
// of embedding and retrieval. Start/End are rune offsets into the normalized
// text. Tokens hold the analyzer output used for lexical scoring.
type Chunk struct {
	ID      string
	DocID   string
	Ordinal int
	Start   int
	End     int
	Text    string
	Tokens  []string

	// Vector is the chunk's embedding, set once the embedding stage has
	// run. It is persisted alongside the chunk so the vector index can be
	// rebuilt without re-embedding.
	Vector []float32
}

// ChunkRef identifies a chunk inside one user space.
type ChunkRef struct {
	DocID   string
	ChunkID string
}

// Filters restrict a search to a subset of a user's documents.
// Zero values mean "no restriction".
type Filters struct {
	DocIDs []string
	Kind   SourceKind
}

// Empty reports whether no filtering is requested.
func (f Filters) Empty() bool {
	return len(f.DocIDs) == 0 && f.Kind == ""
}

// Query is an ephemeral retrieval request. Not persisted.
type Query struct {
	UserID  string
	Text    string
	K       int
	Filters Filters
}

// ScoredChunk pairs a chunk with its similarity score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Hit is one entry of a retrieval result, with provenance resolved.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"document_id"`
	Source  string  `json:"document_source_identifier"`
	Score   float64 `json:"score"`
	Text    string  `json:"chunk_text"`
}

// RetrievalResult is the ordered answer to one query. Regenerated per
// query, never persisted.
type RetrievalResult struct {
	Hits []Hit `json:"hits"`
}

// Posting records a term occurrence in a chunk, used by lexical retrieval.
type Posting struct {
	ChunkID string
	TF      int
}

// Stats describes one user space's corpus, used by BM25 scoring.
type Stats struct {
	TotalDocs   int
	TotalChunks int
	AvgChunkLen float64
}
