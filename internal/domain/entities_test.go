package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestEvidenceImageURLs(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    int
	}{
		{"nil payload", nil, 0},
		{"missing key", map[string]any{"summary": "x"}, 0},
		{"string slice", map[string]any{"crop_evidence_urls": []string{"a", "b"}}, 2},
		{"any slice", map[string]any{"crop_evidence_urls": []any{"a", "b", "c"}}, 3},
		{"json string", map[string]any{"crop_evidence_urls": `["a","b"]`}, 2},
		{"bad json string", map[string]any{"crop_evidence_urls": `not json`}, 0},
		{"wrong type", map[string]any{"crop_evidence_urls": 42}, 0},
		{"mixed any slice", map[string]any{"crop_evidence_urls": []any{"a", 1, "b"}}, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := Evidence{Payload: tc.payload}
			if got := len(e.ImageURLs()); got != tc.want {
				t.Errorf("got %d urls, want %d", got, tc.want)
			}
		})
	}
}

func TestEvidenceStatusHelpers(t *testing.T) {
	e := Evidence{Status: EvidenceFound}
	if !e.ReadyForEmbedding() || e.IsEmbedded() {
		t.Error("FOUND evidence should be ready, not embedded")
	}

	e.Status = EvidenceEmbedded
	if e.ReadyForEmbedding() || !e.IsEmbedded() {
		t.Error("EMBEDDED evidence should be embedded, not ready")
	}
}

func TestSearchThresholdAndMaxResults(t *testing.T) {
	s := ImageSearch{}
	if s.SimilarityThreshold() != DefaultSimilarityThreshold {
		t.Errorf("default threshold: got %v", s.SimilarityThreshold())
	}
	if s.MaxResults() != DefaultMaxResults {
		t.Errorf("default max results: got %d", s.MaxResults())
	}

	s.Metadata = map[string]any{"threshold": 0.9, "max_results": float64(20)}
	if s.SimilarityThreshold() != 0.9 {
		t.Errorf("threshold: got %v", s.SimilarityThreshold())
	}
	if s.MaxResults() != 20 {
		t.Errorf("max results: got %d", s.MaxResults())
	}

	// Numeric strings arrive from JSON metadata occasionally.
	s.Metadata = map[string]any{"threshold": "0.6", "max_results": "15"}
	if s.SimilarityThreshold() != 0.6 {
		t.Errorf("string threshold: got %v", s.SimilarityThreshold())
	}
	if s.MaxResults() != 15 {
		t.Errorf("string max results: got %d", s.MaxResults())
	}

	s.Metadata = map[string]any{"threshold": "bogus", "max_results": -1}
	if s.SimilarityThreshold() != DefaultSimilarityThreshold {
		t.Errorf("bad threshold should fall back, got %v", s.SimilarityThreshold())
	}
	if s.MaxResults() != DefaultMaxResults {
		t.Errorf("non-positive max results should fall back, got %d", s.MaxResults())
	}
}

func TestSearchFlags(t *testing.T) {
	s := ImageSearch{SimilarityStatus: SimilarityDisabled}
	if !s.IsDisabled() {
		t.Error("expected disabled")
	}

	s = ImageSearch{SimilarityStatus: SimilarityMatchesFound, TotalMatches: 3}
	if !s.HasMatches() {
		t.Error("expected matches")
	}

	s.TotalMatches = 0
	if s.HasMatches() {
		t.Error("zero matches should not count")
	}
}

func TestNewEvidenceEmbedding(t *testing.T) {
	evidenceID := uuid.New()
	cameraID := uuid.New()

	emb := NewEvidenceEmbedding(evidenceID, cameraID, []float32{1, 0}, "http://img/1.jpg", map[string]any{
		"image_index": 2,
	})

	if emb.ID == "" {
		t.Fatal("expected generated id")
	}
	if _, err := uuid.Parse(emb.ID); err != nil {
		t.Errorf("point id must be a uuid: %v", err)
	}
	if emb.ID == evidenceID.String() {
		t.Error("point id must not reuse the evidence id")
	}
	if emb.Payload["evidence_id"] != evidenceID.String() {
		t.Errorf("evidence_id: got %v", emb.Payload["evidence_id"])
	}
	if emb.Payload["source_type"] != SourceTypeEvidence {
		t.Errorf("source_type: got %v", emb.Payload["source_type"])
	}
	if emb.Payload["image_index"] != 2 {
		t.Errorf("extra payload lost: %v", emb.Payload["image_index"])
	}
	if emb.Dimension() != 2 {
		t.Errorf("dimension: got %d", emb.Dimension())
	}

	other := NewEvidenceEmbedding(evidenceID, cameraID, []float32{1, 0}, "http://img/1.jpg", nil)
	if other.ID == emb.ID {
		t.Error("each embedding must get a fresh id")
	}

	keyed := NewEvidenceEmbeddingWithID(evidenceID.String(), evidenceID, cameraID, []float32{1, 0}, "http://img/1.jpg", nil)
	if keyed.ID != evidenceID.String() {
		t.Errorf("explicit point id not kept: got %q", keyed.ID)
	}
	if keyed.Payload["evidence_id"] != evidenceID.String() {
		t.Errorf("evidence_id: got %v", keyed.Payload["evidence_id"])
	}
}

func TestNewSearchEmbedding(t *testing.T) {
	searchID := uuid.New()
	userID := uuid.New()

	emb := NewSearchEmbedding(searchID, userID, []float32{0, 1}, "http://img/q.jpg", nil)
	if emb.Payload["source_type"] != SourceTypeSearch {
		t.Errorf("source_type: got %v", emb.Payload["source_type"])
	}
	if emb.Payload["search_id"] != searchID.String() {
		t.Errorf("search_id: got %v", emb.Payload["search_id"])
	}
}
