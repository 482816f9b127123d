package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Evidence lifecycle statuses as stored by the video server.
type EvidenceStatus int

const (
	EvidenceToWork     EvidenceStatus = 1
	EvidenceInProgress EvidenceStatus = 2
	EvidenceFound      EvidenceStatus = 3
	EvidenceEmbedded   EvidenceStatus = 4
)

// Search lifecycle statuses.
type SearchStatus int

const (
	SearchToWork     SearchStatus = 1
	SearchInProgress SearchStatus = 2
	SearchCompleted  SearchStatus = 3
	SearchFailed     SearchStatus = 4
)

// Similarity processing statuses.
type SimilarityStatus int

const (
	SimilarityNoMatches    SimilarityStatus = 1
	SimilarityMatchesFound SimilarityStatus = 2
	SimilarityDisabled     SimilarityStatus = 3
)

const (
	SourceTypeEvidence = "evidence"
	SourceTypeSearch   = "search"

	DefaultSimilarityThreshold = 0.75
	DefaultMaxResults          = 50
)

// Evidence is a camera-sourced record whose payload may reference images
// that need embedding. It is owned by the video server; this service only
// reads it and requests status transitions.
type Evidence struct {
	ID           uuid.UUID
	CameraID     uuid.UUID
	Status       EvidenceStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  time.Time
	Payload      map[string]any
	EmbeddingIDs []string
}

// ReadyForEmbedding reports whether the evidence is a candidate for embedding.
func (e Evidence) ReadyForEmbedding() bool {
	return e.Status == EvidenceFound
}

// IsEmbedded reports whether the evidence has been embedded.
func (e Evidence) IsEmbedded() bool {
	return e.Status == EvidenceEmbedded
}

// Summary extracts the optional summary string from the payload.
func (e Evidence) Summary() string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload["summary"].(string)
	return s
}

// ImageURLs extracts the crop image URLs from the evidence payload.
// The payload may carry them as a JSON list or as a pre-encoded string.
func (e Evidence) ImageURLs() []string {
	if e.Payload == nil {
		return nil
	}

	raw, ok := e.Payload["crop_evidence_urls"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		urls := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				urls = append(urls, s)
			}
		}
		return urls
	case string:
		var urls []string
		if err := json.Unmarshal([]byte(v), &urls); err != nil {
			return nil
		}
		return urls
	default:
		return nil
	}
}

// ImageSearch is a user-initiated request to find evidence images similar
// to a supplied image.
type ImageSearch struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	ImageURL         string
	SearchStatus     SearchStatus
	SimilarityStatus SimilarityStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ProcessedAt      time.Time
	Metadata         map[string]any
	ResultsKey       string
	TotalMatches     int
}

// IsDisabled reports whether the search is excluded from processing.
func (s ImageSearch) IsDisabled() bool {
	return s.SimilarityStatus == SimilarityDisabled
}

// HasMatches reports whether the search previously found matches.
func (s ImageSearch) HasMatches() bool {
	return s.SimilarityStatus == SimilarityMatchesFound && s.TotalMatches > 0
}

// SimilarityThreshold returns the caller-requested threshold from metadata,
// falling back to the default.
func (s ImageSearch) SimilarityThreshold() float32 {
	if v, ok := metadataNumber(s.Metadata, "threshold"); ok {
		return float32(v)
	}
	return DefaultSimilarityThreshold
}

// MaxResults returns the caller-requested result cap from metadata, falling
// back to the default.
func (s ImageSearch) MaxResults() int {
	if v, ok := metadataNumber(s.Metadata, "max_results"); ok && v > 0 {
		return int(v)
	}
	return DefaultMaxResults
}

// metadataNumber reads a numeric metadata value. JSON decoding produces
// float64, but values may also arrive as ints or numeric strings.
func metadataNumber(md map[string]any, key string) (float64, bool) {
	if md == nil {
		return 0, false
	}
	switch v := md[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// SearchStatusUpdate carries the fields of a search status transition.
// Optional fields are pointers so redundant updates can omit them.
type SearchStatusUpdate struct {
	SearchStatus     SearchStatus
	SimilarityStatus *SimilarityStatus
	TotalMatches     *int
	Metadata         map[string]any
}

// IndexStats is a snapshot of the vector collection.
type IndexStats struct {
	Collection string `json:"collection_name"`
	Points     uint64 `json:"points_count"`
	VectorSize int    `json:"vector_size"`
	Distance   string `json:"distance_metric"`
	Status     string `json:"status"`
}
