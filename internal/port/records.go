package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"visearch/internal/domain"
)

// EvidenceStore exposes the evidence lifecycle operations of the video server.
type EvidenceStore interface {
	// UnembeddedEvidences fetches up to limit evidences with status FOUND.
	UnembeddedEvidences(ctx context.Context, limit int) ([]domain.Evidence, error)

	// MarkEmbedded transitions an evidence to EMBEDDED with the full list of
	// stored embedding ids. Setting the same status again is a no-op server
	// side, not an error.
	MarkEmbedded(ctx context.Context, evidenceID uuid.UUID, embeddingIDs []string) error
}

// SearchStore exposes the image-search lifecycle operations of the video server.
type SearchStore interface {
	// PendingSearches fetches up to limit searches awaiting processing.
	PendingSearches(ctx context.Context, limit int) ([]domain.ImageSearch, error)

	// RecalculationCandidates fetches completed searches with matches whose
	// last processing is older than hoursOld hours.
	RecalculationCandidates(ctx context.Context, limit, hoursOld int) ([]domain.ImageSearch, error)

	// GetSearch fetches one search by id.
	GetSearch(ctx context.Context, searchID uuid.UUID) (domain.ImageSearch, error)

	// UpdateStatus applies a status transition. Redundant updates succeed.
	UpdateStatus(ctx context.Context, searchID uuid.UUID, update domain.SearchStatusUpdate) error
}

// ResultCache persists search results with an expiry.
type ResultCache interface {
	// Put stores the results payload for a search, replacing any previous
	// entry, with the given time to live.
	Put(ctx context.Context, searchID uuid.UUID, results domain.CachedResults, ttl time.Duration) error

	// Get retrieves a previously stored payload. The second return is false
	// when no live entry exists.
	Get(ctx context.Context, searchID uuid.UUID) (domain.CachedResults, bool, error)

	// Close releases cache resources.
	Close() error
}
