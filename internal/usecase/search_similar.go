package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"visearch/internal/domain"
	"visearch/internal/port"
)

// pendingLookupLimit bounds the pending-search fetch used to locate the
// current state of a search before executing it.
const pendingLookupLimit = 100

// filterFields are the metadata keys forwarded to the index as keyword
// equality filters. Everything else in metadata is dropped.
var filterFields = []string{"text_description", "camera_id", "object_type", "date_from", "date_to"}

// SearchUseCase runs similarity searches and drives the search status
// transitions and result persistence.
type SearchUseCase struct {
	searches port.SearchStore
	index    port.VectorIndex
	embedder port.Embedder
	cache    port.ResultCache

	cacheTTL time.Duration
	log      *slog.Logger

	defaultThreshold  float32
	defaultMaxResults int
}

func NewSearchUseCase(searches port.SearchStore, index port.VectorIndex, embedder port.Embedder, cache port.ResultCache, cacheTTL time.Duration, log *slog.Logger) *SearchUseCase {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &SearchUseCase{
		searches:          searches,
		index:             index,
		embedder:          embedder,
		cache:             cache,
		cacheTTL:          cacheTTL,
		log:               log,
		defaultThreshold:  domain.DefaultSimilarityThreshold,
		defaultMaxResults: domain.DefaultMaxResults,
	}
}

// SetDefaults overrides the fallback threshold and result limit used when a
// request carries neither.
func (u *SearchUseCase) SetDefaults(threshold float32, maxResults int) {
	if threshold > 0 && threshold <= 1 {
		u.defaultThreshold = threshold
	}
	if maxResults > 0 {
		u.defaultMaxResults = maxResults
	}
}

// Execute runs one similarity search end to end: locate the search, embed the
// query image, query the index, persist results and complete the status.
// Disabled searches return immediately without touching anything. Any panic
// marks the search failed and comes back as a failure response.
func (u *SearchUseCase) Execute(ctx context.Context, req ImageSearchRequest, forceRecalculate bool) (resp ImageSearchResponse) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			u.log.Error("panic during search", "search_id", req.SearchID, "panic", r)
			u.markFailed(ctx, req.SearchID)
			resp = ImageSearchResponse{
				SearchID:     req.SearchID,
				ErrorMessage: fmt.Sprintf("unexpected error during search: %v", r),
				SearchTimeMs: msSince(start),
			}
		}
	}()

	u.log.Info("starting search", "search_id", req.SearchID, "force", forceRecalculate)

	current, found := u.locate(ctx, req.SearchID)
	if found {
		// Disabled searches are excluded from processing entirely; their
		// status must stay untouched.
		if current.IsDisabled() {
			u.log.Info("search disabled, skipping", "search_id", req.SearchID)
			return ImageSearchResponse{
				SearchID:    req.SearchID,
				Success:     true,
				ProcessedAt: time.Now().UTC(),
			}
		}

		if current.SearchStatus != domain.SearchInProgress {
			err := u.searches.UpdateStatus(ctx, req.SearchID, domain.SearchStatusUpdate{
				SearchStatus: domain.SearchInProgress,
			})
			if err != nil {
				u.log.Warn("failed to mark search in progress", "search_id", req.SearchID, "error", err)
			}
		}
	}

	// The query vector is always regenerated from the image; previously
	// stored vectors are never reused.
	vector, err := u.embedder.Generate(ctx, req.ImageURL)
	if err != nil {
		u.log.Error("failed to embed search image", "search_id", req.SearchID, "url", req.ImageURL, "error", err)
		u.markFailed(ctx, req.SearchID)
		return ImageSearchResponse{
			SearchID:     req.SearchID,
			ErrorMessage: fmt.Sprintf("failed to generate embedding for %s", req.ImageURL),
			SearchTimeMs: msSince(start),
		}
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = u.defaultThreshold
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = u.defaultMaxResults
	}

	filter := buildSearchFilter(req.Metadata)
	u.log.Info("searching index",
		"search_id", req.SearchID, "threshold", threshold,
		"max_results", maxResults, "filters", len(filter)-1)

	hits, err := u.index.SearchSimilar(ctx, vector, maxResults, threshold, filter)
	if err != nil {
		u.log.Error("index search failed", "search_id", req.SearchID, "error", err)
		u.markFailed(ctx, req.SearchID)
		return ImageSearchResponse{
			SearchID:     req.SearchID,
			ErrorMessage: fmt.Sprintf("index search failed: %v", err),
			SearchTimeMs: msSince(start),
		}
	}

	dtos := make([]SearchResultDTO, len(hits))
	matches := make([]domain.MatchRecord, len(hits))
	for i, hit := range hits {
		dto := SearchResultDTO{
			EvidenceID:      hit.EvidenceID,
			SimilarityScore: hit.Score,
			ImageURL:        hit.ImageURL,
			CameraID:        hit.CameraID,
			Metadata:        hit.Payload,
		}
		if !hit.CreatedAt.IsZero() {
			dto.Timestamp = hit.CreatedAt.Format(time.RFC3339)
		}
		dtos[i] = dto
		matches[i] = domain.MatchRecord{
			EvidenceID:      hit.EvidenceID,
			SimilarityScore: hit.Score,
			ImageURL:        hit.ImageURL,
			CameraID:        hit.CameraID,
		}
	}

	cached := domain.CachedResults{
		SearchImageURL: req.ImageURL,
		TotalMatches:   len(hits),
		Matches:        matches,
	}
	if err := u.cache.Put(ctx, req.SearchID, cached, u.cacheTTL); err != nil {
		u.log.Warn("failed to cache results", "search_id", req.SearchID, "error", err)
	}

	now := time.Now().UTC()
	similarityStatus := domain.SimilarityNoMatches
	if len(hits) > 0 {
		similarityStatus = domain.SimilarityMatchesFound
	}
	totalMatches := len(hits)

	err = u.searches.UpdateStatus(ctx, req.SearchID, domain.SearchStatusUpdate{
		SearchStatus:     domain.SearchCompleted,
		SimilarityStatus: &similarityStatus,
		TotalMatches:     &totalMatches,
		Metadata: map[string]any{
			"total_matches": totalMatches,
			"processed_at":  now.Format(time.RFC3339),
			"results":       matches,
		},
	})
	if err != nil {
		u.log.Warn("failed to complete search status", "search_id", req.SearchID, "error", err)
	}

	elapsed := msSince(start)
	u.log.Info("search completed",
		"search_id", req.SearchID, "matches", totalMatches, "elapsed_ms", elapsed)

	return ImageSearchResponse{
		SearchID:     req.SearchID,
		Success:      true,
		Results:      dtos,
		TotalMatches: totalMatches,
		SearchTimeMs: elapsed,
		ProcessedAt:  now,
	}
}

// locate finds the search among the pending set. An absent search still gets
// a best-effort one-off computation.
func (u *SearchUseCase) locate(ctx context.Context, searchID uuid.UUID) (domain.ImageSearch, bool) {
	searches, err := u.searches.PendingSearches(ctx, pendingLookupLimit)
	if err != nil {
		u.log.Warn("failed to fetch pending searches", "error", err)
		return domain.ImageSearch{}, false
	}
	for _, search := range searches {
		if search.ID == searchID {
			return search, true
		}
	}
	return domain.ImageSearch{}, false
}

func (u *SearchUseCase) markFailed(ctx context.Context, searchID uuid.UUID) {
	similarityStatus := domain.SimilarityNoMatches
	err := u.searches.UpdateStatus(ctx, searchID, domain.SearchStatusUpdate{
		SearchStatus:     domain.SearchFailed,
		SimilarityStatus: &similarityStatus,
	})
	if err != nil {
		u.log.Warn("failed to mark search failed", "search_id", searchID, "error", err)
	}
}

// buildSearchFilter keeps the recognized metadata keys as keyword conditions
// and always pins the search to evidence points.
func buildSearchFilter(metadata map[string]any) map[string]string {
	filter := map[string]string{"source_type": domain.SourceTypeEvidence}
	for _, key := range filterFields {
		value, ok := metadata[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			filter[key] = v
		default:
			filter[key] = fmt.Sprintf("%v", v)
		}
	}
	return filter
}

// ProcessPending runs every pending search sequentially. Disabled searches
// are skipped; searches that already found matches are recalculated.
func (u *SearchUseCase) ProcessPending(ctx context.Context, limit int, progress ProgressFunc) []ImageSearchResponse {
	searches, err := u.searches.PendingSearches(ctx, limit)
	if err != nil {
		u.log.Error("failed to fetch pending searches", "error", err)
		return nil
	}
	if len(searches) == 0 {
		u.log.Info("no pending searches")
		return nil
	}

	u.log.Info("processing pending searches", "count", len(searches))

	responses := make([]ImageSearchResponse, 0, len(searches))
	for i, search := range searches {
		if progress != nil {
			progress(i, len(searches), search.ID.String())
		}
		if search.IsDisabled() {
			u.log.Info("skipping disabled search", "search_id", search.ID)
			continue
		}

		force := search.SimilarityStatus == domain.SimilarityMatchesFound
		responses = append(responses, u.Execute(ctx, requestFromSearch(search), force))
	}
	if progress != nil {
		progress(len(searches), len(searches), "")
	}

	successful := 0
	for _, resp := range responses {
		if resp.Success {
			successful++
		}
	}
	u.log.Info("pending searches processed", "successful", successful, "total", len(responses))
	return responses
}

// Recalculate reruns completed searches with matches that are older than
// hoursOld hours, forcing a fresh similarity pass over the current index.
func (u *SearchUseCase) Recalculate(ctx context.Context, limit, hoursOld int, progress ProgressFunc) []ImageSearchResponse {
	candidates, err := u.searches.RecalculationCandidates(ctx, limit, hoursOld)
	if err != nil {
		u.log.Error("failed to fetch recalculation candidates", "error", err)
		return nil
	}
	if len(candidates) == 0 {
		u.log.Info("no searches need recalculation")
		return nil
	}

	u.log.Info("recalculating searches", "count", len(candidates))

	responses := make([]ImageSearchResponse, 0, len(candidates))
	for i, search := range candidates {
		if progress != nil {
			progress(i, len(candidates), search.ID.String())
		}
		responses = append(responses, u.Execute(ctx, requestFromSearch(search), true))
	}
	if progress != nil {
		progress(len(candidates), len(candidates), "")
	}
	return responses
}

// RecalculateByIDs reruns specific searches. Searches that are not completed
// with matches are skipped and returned separately.
func (u *SearchUseCase) RecalculateByIDs(ctx context.Context, searchIDs []uuid.UUID) (responses []ImageSearchResponse, skipped []uuid.UUID) {
	for _, searchID := range searchIDs {
		search, err := u.searches.GetSearch(ctx, searchID)
		if err != nil {
			u.log.Warn("failed to fetch search", "search_id", searchID, "error", err)
			skipped = append(skipped, searchID)
			continue
		}
		if search.SearchStatus != domain.SearchCompleted || search.SimilarityStatus != domain.SimilarityMatchesFound {
			u.log.Warn("search not eligible for recalculation", "search_id", searchID)
			skipped = append(skipped, searchID)
			continue
		}
		responses = append(responses, u.Execute(ctx, requestFromSearch(search), true))
	}
	return responses, skipped
}

func requestFromSearch(search domain.ImageSearch) ImageSearchRequest {
	return ImageSearchRequest{
		SearchID:   search.ID,
		UserID:     search.UserID,
		ImageURL:   search.ImageURL,
		Threshold:  search.SimilarityThreshold(),
		MaxResults: search.MaxResults(),
		Metadata:   search.Metadata,
	}
}
