// Package embedder defines the Provider interface for the embedder
// client (C1): it turns text into a fixed-dimension vector via an
// external model. Implementations must be safe for concurrent use.
package embedder

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// Every vector returned by a single Provider instance has the same
// length (Dimensions()) and is deterministic within a model version.
// Upstream failures must be wrapped as ragerr.Upstream by the caller
// if the implementation does not already do so.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length D of every embedding vector
	// produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for
	// logging and config validation.
	ModelID() string
}
