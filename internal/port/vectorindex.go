package port

import (
	"context"

	"visearch/internal/domain"
)

// VectorIndex stores image embeddings and answers nearest-neighbor queries.
type VectorIndex interface {
	// Initialize creates the backing collection (fixed vector width, cosine
	// distance) if absent. Idempotent; called on every process start.
	Initialize(ctx context.Context) error

	// Store writes one embedding. A write the index does not report as
	// completed is an error.
	Store(ctx context.Context, embedding domain.ImageEmbedding) error

	// StoreBatch writes several embeddings in one call.
	StoreBatch(ctx context.Context, embeddings []domain.ImageEmbedding) error

	// SearchSimilar returns up to limit hits scoring at or above threshold,
	// ordered by index-native score descending. The filter applies keyword
	// equality on payload fields; a nil filter means unfiltered search.
	SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float32, filter map[string]string) ([]domain.SearchResult, error)

	// Exists reports whether a point with the given id is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// GetByID retrieves a stored embedding, or nil if absent.
	GetByID(ctx context.Context, id string) (*domain.ImageEmbedding, error)

	// Delete removes a point by id.
	Delete(ctx context.Context, id string) error

	// Stats returns a snapshot of the collection.
	Stats(ctx context.Context) (domain.IndexStats, error)
}
