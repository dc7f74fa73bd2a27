// Package embeddings generates embedding vectors for prompt content.
package embeddings

import "context"

// Client defines the interface for generating text embeddings.
type Client interface {
	// Embed generates an embedding vector for the given text. The returned
	// slice is L2-normalized so cosine similarity reduces to a dot product.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
