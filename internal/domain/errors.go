package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedContent marks input that is empty or unreadable after
	// decoding. Not retried.
	ErrUnsupportedContent = errors.New("unsupported content")

	// ErrChunking marks an invalid chunking configuration. Fatal to the
	// ingestion request.
	ErrChunking = errors.New("invalid chunking configuration")

	// ErrEmbeddingUnavailable marks a transient embedder failure (timeout,
	// malformed output, per-response dimension mismatch). Retried with
	// bounded backoff before the ingestion is failed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrConflict is returned to the losing side of two concurrent replace
	// operations on the same document. The caller retries the whole
	// ingestion.
	ErrConflict = errors.New("concurrent document replace")

	// ErrNotFound is returned on read/delete of an unknown document or
	// chunk id.
	ErrNotFound = errors.New("not found")
)

// DimensionMismatchError reports a configured embedding dimension that does
// not match the model family. It is fatal at startup, never per-request.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
