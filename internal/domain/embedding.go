package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImageEmbedding is a single stored vector together with the payload that
// becomes the index-side metadata. Multi-image evidences get one freshly
// generated point id per image; a single-image embed is keyed by the
// evidence id itself so a repeat call finds the existing point.
type ImageEmbedding struct {
	ID         string
	Vector     []float32
	Payload    map[string]any
	CreatedAt  time.Time
	SourceType string
	ImageURL   string
}

// NewEvidenceEmbedding builds an embedding for one evidence image under a
// fresh point id. Extra payload entries (image index, summary, ...) are
// merged in last.
func NewEvidenceEmbedding(evidenceID, cameraID uuid.UUID, vector []float32, imageURL string, extra map[string]any) ImageEmbedding {
	return NewEvidenceEmbeddingWithID(uuid.NewString(), evidenceID, cameraID, vector, imageURL, extra)
}

// NewEvidenceEmbeddingWithID builds an evidence embedding stored under a
// caller-chosen point id.
func NewEvidenceEmbeddingWithID(id string, evidenceID, cameraID uuid.UUID, vector []float32, imageURL string, extra map[string]any) ImageEmbedding {
	now := time.Now().UTC()
	payload := map[string]any{
		"source_type": SourceTypeEvidence,
		"evidence_id": evidenceID.String(),
		"camera_id":   cameraID.String(),
		"image_url":   imageURL,
		"created_at":  now.Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return ImageEmbedding{
		ID:         id,
		Vector:     vector,
		Payload:    payload,
		CreatedAt:  now,
		SourceType: SourceTypeEvidence,
		ImageURL:   imageURL,
	}
}

// NewSearchEmbedding builds an embedding for a search's query image.
func NewSearchEmbedding(searchID, userID uuid.UUID, vector []float32, imageURL string, extra map[string]any) ImageEmbedding {
	now := time.Now().UTC()
	payload := map[string]any{
		"source_type": SourceTypeSearch,
		"search_id":   searchID.String(),
		"user_id":     userID.String(),
		"image_url":   imageURL,
		"created_at":  now.Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return ImageEmbedding{
		ID:         uuid.NewString(),
		Vector:     vector,
		Payload:    payload,
		CreatedAt:  now,
		SourceType: SourceTypeSearch,
		ImageURL:   imageURL,
	}
}

// Dimension returns the vector length.
func (e ImageEmbedding) Dimension() int {
	return len(e.Vector)
}

// SearchResult is a read-only projection of one index hit. The score is the
// index-native similarity and is never re-normalized here.
type SearchResult struct {
	EvidenceID string
	CameraID   string
	ImageURL   string
	Score      float64
	CreatedAt  time.Time
	Payload    map[string]any
}

// CachedResults is the payload persisted to the result cache for one search.
type CachedResults struct {
	SearchImageURL string        `json:"search_image_url"`
	TotalMatches   int           `json:"total_matches"`
	Matches        []MatchRecord `json:"matches"`
}

// MatchRecord is the metadata-only projection of a hit kept in the cache and
// in search status metadata.
type MatchRecord struct {
	EvidenceID      string  `json:"evidence_id"`
	SimilarityScore float64 `json:"similarity_score"`
	ImageURL        string  `json:"image_url"`
	CameraID        string  `json:"camera_id,omitempty"`
}
