package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"visearch/internal/domain"
	"visearch/internal/port"
)

// EmbedUseCase turns evidence images into stored index points and drives the
// evidence status transitions.
type EmbedUseCase struct {
	evidences port.EvidenceStore
	index     port.VectorIndex
	embedder  port.Embedder

	// requireAllImages makes a batch item fail unless every image of the
	// evidence was embedded. Off, a single embedded image is enough.
	requireAllImages bool
	log              *slog.Logger
}

func NewEmbedUseCase(evidences port.EvidenceStore, index port.VectorIndex, embedder port.Embedder, requireAllImages bool, log *slog.Logger) *EmbedUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &EmbedUseCase{
		evidences:        evidences,
		index:            index,
		embedder:         embedder,
		requireAllImages: requireAllImages,
		log:              log,
	}
}

// EmbedSingle embeds one evidence image. A point stored under the evidence id
// makes the call a no-op success. All failures come back as a response, never
// as a panic or transport error.
func (u *EmbedUseCase) EmbedSingle(ctx context.Context, req EvidenceEmbeddingRequest) (resp EvidenceEmbeddingResponse) {
	defer func() {
		if r := recover(); r != nil {
			u.log.Error("panic embedding evidence", "evidence_id", req.EvidenceID, "panic", r)
			resp = EvidenceEmbeddingResponse{
				EvidenceID:   req.EvidenceID,
				ErrorMessage: fmt.Sprintf("unexpected error: %v", r),
			}
		}
	}()

	exists, err := u.index.Exists(ctx, req.EvidenceID.String())
	if err != nil {
		return EvidenceEmbeddingResponse{
			EvidenceID:   req.EvidenceID,
			ErrorMessage: fmt.Sprintf("failed to check existing embedding: %v", err),
		}
	}
	if exists {
		u.log.Info("evidence already embedded", "evidence_id", req.EvidenceID)
		return EvidenceEmbeddingResponse{
			EvidenceID:  req.EvidenceID,
			Success:     true,
			EmbeddingID: req.EvidenceID.String(),
			ProcessedAt: time.Now().UTC(),
		}
	}

	vector, err := u.embedder.Generate(ctx, req.ImageURL)
	if err != nil {
		u.log.Error("failed to generate embedding", "evidence_id", req.EvidenceID, "url", req.ImageURL, "error", err)
		return EvidenceEmbeddingResponse{
			EvidenceID:   req.EvidenceID,
			ErrorMessage: fmt.Sprintf("failed to generate embedding for %s", req.ImageURL),
		}
	}

	// The point is keyed by the evidence id so the Exists guard above finds
	// it on a repeat call.
	embedding := domain.NewEvidenceEmbeddingWithID(req.EvidenceID.String(), req.EvidenceID, req.CameraID, vector, req.ImageURL, req.Metadata)
	if err := u.index.Store(ctx, embedding); err != nil {
		u.log.Error("failed to store embedding", "evidence_id", req.EvidenceID, "error", err)
		return EvidenceEmbeddingResponse{
			EvidenceID:   req.EvidenceID,
			ErrorMessage: "failed to store embedding in vector database",
		}
	}

	return EvidenceEmbeddingResponse{
		EvidenceID:      req.EvidenceID,
		Success:         true,
		EmbeddingID:     embedding.ID,
		VectorDimension: embedding.Dimension(),
		ProcessedAt:     time.Now().UTC(),
	}
}

// ProcessEvidenceImages embeds every image of one evidence independently.
// It returns whether all images succeeded plus the ids of the stored points.
func (u *EmbedUseCase) ProcessEvidenceImages(ctx context.Context, evidence domain.Evidence) (bool, []string) {
	imageURLs := evidence.ImageURLs()
	if len(imageURLs) == 0 {
		u.log.Warn("evidence has no image URLs", "evidence_id", evidence.ID)
		return false, nil
	}

	summary := evidence.Summary()
	u.log.Info("processing evidence images", "evidence_id", evidence.ID, "images", len(imageURLs))

	var embeddingIDs []string
	allSucceeded := true

	for idx, imageURL := range imageURLs {
		vector, err := u.embedder.Generate(ctx, imageURL)
		if err != nil {
			u.log.Error("failed to embed image",
				"evidence_id", evidence.ID, "index", idx, "url", imageURL, "error", err)
			allSucceeded = false
			continue
		}

		extra := map[string]any{
			"image_index":  idx,
			"total_images": len(imageURLs),
		}
		if summary != "" {
			extra["summary"] = summary
		}

		embedding := domain.NewEvidenceEmbedding(evidence.ID, evidence.CameraID, vector, imageURL, extra)
		if err := u.index.Store(ctx, embedding); err != nil {
			u.log.Error("failed to store embedding",
				"evidence_id", evidence.ID, "index", idx, "error", err)
			allSucceeded = false
			continue
		}
		embeddingIDs = append(embeddingIDs, embedding.ID)
	}

	return allSucceeded, embeddingIDs
}

// RunBatch pulls unembedded evidences and processes them sequentially. One
// item's failure never stops the batch.
func (u *EmbedUseCase) RunBatch(ctx context.Context, limit int, progress ProgressFunc) BatchResult {
	start := time.Now()
	result := BatchResult{}

	evidences, err := u.evidences.UnembeddedEvidences(ctx, limit)
	if err != nil {
		u.log.Error("failed to fetch unembedded evidences", "error", err)
		result.Errors = append(result.Errors, BatchError{Error: err.Error()})
		result.ProcessingTimeMs = msSince(start)
		return result
	}

	result.TotalProcessed = len(evidences)
	if len(evidences) == 0 {
		u.log.Info("no evidences to embed")
		return result
	}

	u.log.Info("embedding batch started", "count", len(evidences))

	for i, evidence := range evidences {
		if progress != nil {
			progress(i, len(evidences), evidence.ID.String())
		}
		u.processOne(ctx, evidence, &result)
	}
	if progress != nil {
		progress(len(evidences), len(evidences), "")
	}

	result.ProcessingTimeMs = msSince(start)
	u.log.Info("embedding batch completed",
		"successful", result.Successful, "failed", result.Failed,
		"elapsed_ms", result.ProcessingTimeMs)
	return result
}

func (u *EmbedUseCase) processOne(ctx context.Context, evidence domain.Evidence, result *BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			u.log.Error("panic processing evidence", "evidence_id", evidence.ID, "panic", r)
			result.Failed++
			result.Errors = append(result.Errors, BatchError{
				EvidenceID: evidence.ID.String(),
				Error:      fmt.Sprintf("%v", r),
			})
		}
	}()

	allSucceeded, embeddingIDs := u.ProcessEvidenceImages(ctx, evidence)

	if len(embeddingIDs) == 0 {
		result.Failed++
		result.Errors = append(result.Errors, BatchError{
			EvidenceID: evidence.ID.String(),
			Error:      "No images could be embedded",
		})
		return
	}
	if u.requireAllImages && !allSucceeded {
		result.Failed++
		result.Errors = append(result.Errors, BatchError{
			EvidenceID: evidence.ID.String(),
			Error:      "Not all images could be embedded",
		})
		return
	}

	if err := u.evidences.MarkEmbedded(ctx, evidence.ID, embeddingIDs); err != nil {
		u.log.Error("failed to mark evidence embedded", "evidence_id", evidence.ID, "error", err)
		result.Failed++
		result.Errors = append(result.Errors, BatchError{
			EvidenceID: evidence.ID.String(),
			Error:      "Failed to update evidence status",
		})
		return
	}

	result.Successful++
	result.EmbeddedIDs = append(result.EmbeddedIDs, embeddingIDs...)
	u.log.Info("evidence embedded", "evidence_id", evidence.ID, "images", len(embeddingIDs))
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
