// Package embedder turns text into vectors. Providers share one interface so
// the indexer and search paths never care which service is behind it.
package embedder

import "context"

// Embedder produces embedding vectors for text.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of the vectors this embedder produces.
	Dimensions() int

	// Ping verifies the backing service is reachable.
	Ping(ctx context.Context) error

	Close() error
}
