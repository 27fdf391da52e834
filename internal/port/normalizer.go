package port

import "kbase/internal/domain"

// Normalizer turns raw extracted content into clean, encoding-consistent
// text. Pure transform, no side effects.
type Normalizer interface {
	Normalize(raw string, kind domain.SourceKind) (string, error)
}
