package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"visearch/internal/adapter/memstore"
	"visearch/internal/domain"
)

func newEvidence(urls []string) domain.Evidence {
	return domain.Evidence{
		ID:       uuid.New(),
		CameraID: uuid.New(),
		Status:   domain.EvidenceFound,
		Payload: map[string]any{
			"crop_evidence_urls": urls,
			"summary":            "person near entrance",
		},
	}
}

func TestEmbedSingle_StoresPoint(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	index := memstore.NewMemoryVectorIndex()
	embedder := memstore.NewStaticEmbedder(4)
	embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}

	u := NewEmbedUseCase(evidences, index, embedder, false, nil)

	resp := u.EmbedSingle(context.Background(), EvidenceEmbeddingRequest{
		EvidenceID: uuid.New(),
		CameraID:   uuid.New(),
		ImageURL:   "http://img/1.jpg",
	})
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.ErrorMessage)
	}
	if resp.EmbeddingID == "" {
		t.Error("expected an embedding id")
	}
	if resp.VectorDimension != 4 {
		t.Errorf("dimension: got %d", resp.VectorDimension)
	}

	stored, err := index.GetByID(context.Background(), resp.EmbeddingID)
	if err != nil || stored == nil {
		t.Fatalf("point not stored: %v", err)
	}
	if stored.Payload["source_type"] != domain.SourceTypeEvidence {
		t.Errorf("source_type: got %v", stored.Payload["source_type"])
	}
}

func TestEmbedSingle_Idempotent(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	index := memstore.NewMemoryVectorIndex()
	embedder := memstore.NewStaticEmbedder(4)
	embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}

	u := NewEmbedUseCase(evidences, index, embedder, false, nil)

	req := EvidenceEmbeddingRequest{
		EvidenceID: uuid.New(),
		CameraID:   uuid.New(),
		ImageURL:   "http://img/1.jpg",
	}
	first := u.EmbedSingle(context.Background(), req)
	if !first.Success {
		t.Fatalf("first embed failed: %q", first.ErrorMessage)
	}
	if first.EmbeddingID != req.EvidenceID.String() {
		t.Errorf("single embeds must key the point by evidence id, got %q", first.EmbeddingID)
	}

	// Failing the URL proves the repeat call short-circuits on the stored
	// point instead of embedding again.
	embedder.FailURLs["http://img/1.jpg"] = true
	second := u.EmbedSingle(context.Background(), req)
	if !second.Success {
		t.Fatalf("repeat embed failed: %q", second.ErrorMessage)
	}
	if second.EmbeddingID != first.EmbeddingID {
		t.Errorf("embedding id changed on repeat: %q vs %q", second.EmbeddingID, first.EmbeddingID)
	}

	stats, _ := index.Stats(context.Background())
	if stats.Points != 1 {
		t.Errorf("expected a single stored point after two calls, got %d", stats.Points)
	}
}

func TestEmbedSingle_EmbedderFailure(t *testing.T) {
	u := NewEmbedUseCase(memstore.NewMemoryEvidenceStore(), memstore.NewMemoryVectorIndex(), memstore.NewStaticEmbedder(4), false, nil)

	resp := u.EmbedSingle(context.Background(), EvidenceEmbeddingRequest{
		EvidenceID: uuid.New(),
		ImageURL:   "http://img/unknown.jpg",
	})
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.ErrorMessage == "" {
		t.Error("expected error message")
	}
}

func TestProcessEvidenceImages_NoURLs(t *testing.T) {
	u := NewEmbedUseCase(memstore.NewMemoryEvidenceStore(), memstore.NewMemoryVectorIndex(), memstore.NewStaticEmbedder(4), false, nil)

	evidence := domain.Evidence{ID: uuid.New(), Status: domain.EvidenceFound}
	ok, ids := u.ProcessEvidenceImages(context.Background(), evidence)
	if ok {
		t.Error("no images must not count as success")
	}
	if len(ids) != 0 {
		t.Errorf("expected no ids, got %v", ids)
	}
}

func TestProcessEvidenceImages_PartialFailure(t *testing.T) {
	index := memstore.NewMemoryVectorIndex()
	embedder := memstore.NewStaticEmbedder(4)
	embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}
	embedder.Vectors["http://img/3.jpg"] = []float32{0, 1, 0, 0}
	embedder.FailURLs["http://img/2.jpg"] = true

	u := NewEmbedUseCase(memstore.NewMemoryEvidenceStore(), index, embedder, false, nil)

	evidence := newEvidence([]string{"http://img/1.jpg", "http://img/2.jpg", "http://img/3.jpg"})
	allOK, ids := u.ProcessEvidenceImages(context.Background(), evidence)

	if allOK {
		t.Error("partial failure must clear the all-succeeded flag")
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 stored embeddings, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Error("each image must get a fresh point id")
	}

	stored, _ := index.GetByID(context.Background(), ids[0])
	if stored.Payload["image_index"] != 0 {
		t.Errorf("image_index: got %v", stored.Payload["image_index"])
	}
	if stored.Payload["total_images"] != 3 {
		t.Errorf("total_images: got %v", stored.Payload["total_images"])
	}
	if stored.Payload["summary"] != "person near entrance" {
		t.Errorf("summary: got %v", stored.Payload["summary"])
	}
	if stored.Payload["evidence_id"] != evidence.ID.String() {
		t.Errorf("evidence_id: got %v", stored.Payload["evidence_id"])
	}
}

func TestRunBatch_PartialEmbedStillMarksEmbedded(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	index := memstore.NewMemoryVectorIndex()
	embedder := memstore.NewStaticEmbedder(4)
	embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}
	embedder.FailURLs["http://img/2.jpg"] = true

	evidence := newEvidence([]string{"http://img/1.jpg", "http://img/2.jpg"})
	evidences.PutEvidence(evidence)

	u := NewEmbedUseCase(evidences, index, embedder, false, nil)
	result := u.RunBatch(context.Background(), 50, nil)

	if result.TotalProcessed != 1 || result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.EmbeddedIDs) != 1 {
		t.Errorf("embedded ids: got %v", result.EmbeddedIDs)
	}

	updated, _ := evidences.GetEvidence(evidence.ID)
	if updated.Status != domain.EvidenceEmbedded {
		t.Errorf("evidence not marked embedded: %d", updated.Status)
	}
	if len(updated.EmbeddingIDs) != 1 {
		t.Errorf("embedding ids on evidence: got %v", updated.EmbeddingIDs)
	}
}

func TestRunBatch_RequireAllImages(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	embedder := memstore.NewStaticEmbedder(4)
	embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}
	embedder.FailURLs["http://img/2.jpg"] = true

	evidence := newEvidence([]string{"http://img/1.jpg", "http://img/2.jpg"})
	evidences.PutEvidence(evidence)

	u := NewEmbedUseCase(evidences, memstore.NewMemoryVectorIndex(), embedder, true, nil)
	result := u.RunBatch(context.Background(), 50, nil)

	if result.Failed != 1 || result.Successful != 0 {
		t.Fatalf("strict mode should fail partial embeds: %+v", result)
	}
	if result.Errors[0].Error != "Not all images could be embedded" {
		t.Errorf("error message: got %q", result.Errors[0].Error)
	}

	updated, _ := evidences.GetEvidence(evidence.ID)
	if updated.Status != domain.EvidenceFound {
		t.Errorf("evidence must stay unembedded in strict mode: %d", updated.Status)
	}
}

func TestRunBatch_NoEmbeddableImages(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	embedder := memstore.NewStaticEmbedder(4)
	embedder.FailURLs["http://img/1.jpg"] = true

	evidence := newEvidence([]string{"http://img/1.jpg"})
	evidences.PutEvidence(evidence)

	u := NewEmbedUseCase(evidences, memstore.NewMemoryVectorIndex(), embedder, false, nil)
	result := u.RunBatch(context.Background(), 50, nil)

	if result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Errors[0].Error != "No images could be embedded" {
		t.Errorf("error message: got %q", result.Errors[0].Error)
	}
	if result.Errors[0].EvidenceID != evidence.ID.String() {
		t.Errorf("error evidence id: got %q", result.Errors[0].EvidenceID)
	}
}

func TestRunBatch_MarkEmbeddedFailure(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	evidences.MarkEmbeddedErr = errors.New("video server down")
	embedder := memstore.NewStaticEmbedder(4)
	embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}

	evidences.PutEvidence(newEvidence([]string{"http://img/1.jpg"}))

	u := NewEmbedUseCase(evidences, memstore.NewMemoryVectorIndex(), embedder, false, nil)
	result := u.RunBatch(context.Background(), 50, nil)

	if result.Failed != 1 || result.Successful != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Errors[0].Error != "Failed to update evidence status" {
		t.Errorf("error message: got %q", result.Errors[0].Error)
	}
}

// panicEmbedder blows up on one URL so tests can exercise per-item recovery.
type panicEmbedder struct {
	*memstore.StaticEmbedder
	panicURL string
}

func (e *panicEmbedder) Generate(ctx context.Context, imageURL string) ([]float32, error) {
	if imageURL == e.panicURL {
		panic("embedder crashed")
	}
	return e.StaticEmbedder.Generate(ctx, imageURL)
}

func TestRunBatch_PanicIsolatedToItem(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	index := memstore.NewMemoryVectorIndex()
	inner := memstore.NewStaticEmbedder(4)
	inner.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}
	inner.Vectors["http://img/3.jpg"] = []float32{0, 1, 0, 0}
	embedder := &panicEmbedder{StaticEmbedder: inner, panicURL: "http://img/2.jpg"}

	first := newEvidence([]string{"http://img/1.jpg"})
	second := newEvidence([]string{"http://img/2.jpg"})
	third := newEvidence([]string{"http://img/3.jpg"})
	evidences.PutEvidence(first)
	evidences.PutEvidence(second)
	evidences.PutEvidence(third)

	u := NewEmbedUseCase(evidences, index, embedder, false, nil)
	result := u.RunBatch(context.Background(), 50, nil)

	if result.TotalProcessed != 3 || result.Successful != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].EvidenceID != second.ID.String() {
		t.Fatalf("errors: %+v", result.Errors)
	}

	for _, ev := range []domain.Evidence{first, third} {
		updated, _ := evidences.GetEvidence(ev.ID)
		if updated.Status != domain.EvidenceEmbedded {
			t.Errorf("evidence %s not embedded after sibling panic", ev.ID)
		}
	}
	updated, _ := evidences.GetEvidence(second.ID)
	if updated.Status != domain.EvidenceFound {
		t.Errorf("panicked evidence must stay unembedded: %d", updated.Status)
	}
}

func TestRunBatch_EmptyBacklog(t *testing.T) {
	u := NewEmbedUseCase(memstore.NewMemoryEvidenceStore(), memstore.NewMemoryVectorIndex(), memstore.NewStaticEmbedder(4), false, nil)

	result := u.RunBatch(context.Background(), 50, nil)
	if result.TotalProcessed != 0 || result.Failed != 0 || result.Successful != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRunBatch_ReportsProgress(t *testing.T) {
	evidences := memstore.NewMemoryEvidenceStore()
	embedder := memstore.NewStaticEmbedder(4)
	embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}
	evidences.PutEvidence(newEvidence([]string{"http://img/1.jpg"}))

	var calls int
	var lastTotal int
	u := NewEmbedUseCase(evidences, memstore.NewMemoryVectorIndex(), embedder, false, nil)
	u.RunBatch(context.Background(), 50, func(processed, total int, current string) {
		calls++
		lastTotal = total
	})

	if calls < 2 {
		t.Errorf("expected progress callbacks, got %d", calls)
	}
	if lastTotal != 1 {
		t.Errorf("total: got %d", lastTotal)
	}
}
