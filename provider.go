package finrag

import "context"

// EmbeddingProvider turns text into fixed-dimension vectors. Embeddings are
// produced externally; this module never computes them itself.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedFunc adapts a function to the EmbeddingProvider interface.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
