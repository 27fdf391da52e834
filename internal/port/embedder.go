package port

import "context"

// Embedder generates vector embeddings for text. The underlying model
// family is an external capability; dimension and numeric range are fixed
// per deployment.
type Embedder interface {
	// Embed returns one vector per input text, in the same order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
