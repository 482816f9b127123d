// Package usecase contains the coordination logic between the video server,
// the embedding model and the vector index.
package usecase

import (
	"time"

	"github.com/google/uuid"
)

// ProgressFunc reports batch progress to the caller. current names the item
// being processed.
type ProgressFunc func(processed, total int, current string)

// EvidenceEmbeddingRequest asks for one evidence image to be embedded.
type EvidenceEmbeddingRequest struct {
	EvidenceID uuid.UUID
	CameraID   uuid.UUID
	ImageURL   string
	Metadata   map[string]any
}

// EvidenceEmbeddingResponse reports the outcome of one embedding attempt.
type EvidenceEmbeddingResponse struct {
	EvidenceID      uuid.UUID `json:"evidence_id"`
	Success         bool      `json:"success"`
	EmbeddingID     string    `json:"embedding_id,omitempty"`
	VectorDimension int       `json:"vector_dimension,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ProcessedAt     time.Time `json:"processed_at,omitempty"`
}

// ImageSearchRequest asks for a similarity search over the evidence index.
type ImageSearchRequest struct {
	SearchID   uuid.UUID
	UserID     uuid.UUID
	ImageURL   string
	Threshold  float32
	MaxResults int
	Metadata   map[string]any
}

// SearchResultDTO is one similarity hit as returned to callers.
type SearchResultDTO struct {
	EvidenceID      string         `json:"evidence_id"`
	SimilarityScore float64        `json:"similarity_score"`
	ImageURL        string         `json:"image_url"`
	CameraID        string         `json:"camera_id,omitempty"`
	Timestamp       string         `json:"timestamp,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ImageSearchResponse reports the outcome of one search.
type ImageSearchResponse struct {
	SearchID     uuid.UUID         `json:"search_id"`
	Success      bool              `json:"success"`
	Results      []SearchResultDTO `json:"results,omitempty"`
	TotalMatches int               `json:"total_matches"`
	SearchTimeMs float64           `json:"search_time_ms,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ProcessedAt  time.Time         `json:"processed_at,omitempty"`
}

// BatchError records one failed item of a batch run.
type BatchError struct {
	EvidenceID string `json:"evidence_id,omitempty"`
	Error      string `json:"error"`
}

// BatchResult aggregates one batch embedding run.
type BatchResult struct {
	TotalProcessed   int          `json:"total_processed"`
	Successful       int          `json:"successful"`
	Failed           int          `json:"failed"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
	Errors           []BatchError `json:"errors,omitempty"`
	EmbeddedIDs      []string     `json:"embedded_ids,omitempty"`
}
