package port

import "context"

// Embedder generates vector embeddings for text.
//
// Implementations are expensive to construct and must be created once per
// process and shared; they must be safe for concurrent use.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
