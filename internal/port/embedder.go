package port

import "context"

// Embedder converts images into fixed-length unit vectors.
type Embedder interface {
	// Initialize prepares the backing model. Safe to call once per process.
	Initialize(ctx context.Context) error

	// Generate downloads and embeds a single image. The returned vector is
	// normalized to unit length. Any failure (bad URL, oversized payload,
	// wrong content type, model error) is returned as an error; no vector
	// and no error never occurs together.
	Generate(ctx context.Context, imageURL string) ([]float32, error)

	// GenerateBatch embeds several images, preserving input order. Failed
	// entries are nil; the slice always has len(imageURLs) elements. The
	// error is reserved for failures of the batch as a whole.
	GenerateBatch(ctx context.Context, imageURLs []string) ([][]float32, error)

	// Validate runs the same download and format checks as Generate without
	// producing a vector.
	Validate(ctx context.Context, imageURL string) bool

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
