// Package embeddings provides the EMBEDDING_MODEL client used to vectorise
// turns and summaries before they're handed to the Store's brute-force
// cosine search.
package embeddings

import "context"

// Provider turns text into fixed-dimension float32 vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
}
