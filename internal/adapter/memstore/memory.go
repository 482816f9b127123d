// Package memstore provides in-memory adapters for tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"visearch/internal/domain"
)

// MemoryVectorIndex is an in-memory vector index with cosine scoring.
type MemoryVectorIndex struct {
	mu     sync.RWMutex
	points map[string]domain.ImageEmbedding
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{points: make(map[string]domain.ImageEmbedding)}
}

func (s *MemoryVectorIndex) Initialize(ctx context.Context) error {
	return nil
}

func (s *MemoryVectorIndex) Store(ctx context.Context, embedding domain.ImageEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[embedding.ID] = embedding
	return nil
}

func (s *MemoryVectorIndex) StoreBatch(ctx context.Context, embeddings []domain.ImageEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range embeddings {
		s.points[emb.ID] = emb
	}
	return nil
}

func (s *MemoryVectorIndex) SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float32, filter map[string]string) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.SearchResult
	for _, point := range s.points {
		if !matchesFilter(point.Payload, filter) {
			continue
		}
		score := cosineSimilarity(vector, point.Vector)
		if score < float64(threshold) {
			continue
		}
		res := domain.SearchResult{
			Score:     score,
			ImageURL:  point.ImageURL,
			CreatedAt: point.CreatedAt,
			Payload:   point.Payload,
		}
		if v, ok := point.Payload["evidence_id"].(string); ok {
			res.EvidenceID = v
		} else {
			res.EvidenceID = point.ID
		}
		if v, ok := point.Payload["camera_id"].(string); ok {
			res.CameraID = v
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matchesFilter(payload map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		got, ok := payload[key].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (s *MemoryVectorIndex) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.points[id]
	return ok, nil
}

func (s *MemoryVectorIndex) GetByID(ctx context.Context, id string) (*domain.ImageEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	point, ok := s.points[id]
	if !ok {
		return nil, nil
	}
	return &point, nil
}

func (s *MemoryVectorIndex) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, id)
	return nil
}

func (s *MemoryVectorIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := 0
	for _, point := range s.points {
		size = len(point.Vector)
		break
	}
	return domain.IndexStats{
		Collection: "memory",
		Points:     uint64(len(s.points)),
		VectorSize: size,
		Distance:   "Cosine",
		Status:     "green",
	}, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MemoryEvidenceStore is an in-memory evidence store.
type MemoryEvidenceStore struct {
	mu        sync.RWMutex
	evidences map[uuid.UUID]domain.Evidence

	MarkEmbeddedErr error
}

func NewMemoryEvidenceStore() *MemoryEvidenceStore {
	return &MemoryEvidenceStore{evidences: make(map[uuid.UUID]domain.Evidence)}
}

func (s *MemoryEvidenceStore) PutEvidence(evidence domain.Evidence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidences[evidence.ID] = evidence
}

func (s *MemoryEvidenceStore) GetEvidence(id uuid.UUID) (domain.Evidence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evidence, ok := s.evidences[id]
	return evidence, ok
}

func (s *MemoryEvidenceStore) UnembeddedEvidences(ctx context.Context, limit int) ([]domain.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Evidence
	for _, evidence := range s.evidences {
		if evidence.Status != domain.EvidenceFound {
			continue
		}
		out = append(out, evidence)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryEvidenceStore) MarkEmbedded(ctx context.Context, evidenceID uuid.UUID, embeddingIDs []string) error {
	if s.MarkEmbeddedErr != nil {
		return s.MarkEmbeddedErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidences[evidenceID]
	if !ok {
		return fmt.Errorf("evidence not found: %s", evidenceID)
	}
	evidence.Status = domain.EvidenceEmbedded
	evidence.EmbeddingIDs = embeddingIDs
	evidence.ProcessedAt = time.Now().UTC()
	s.evidences[evidenceID] = evidence
	return nil
}

// MemorySearchStore is an in-memory search store that records every status
// update it receives.
type MemorySearchStore struct {
	mu       sync.RWMutex
	searches map[uuid.UUID]domain.ImageSearch
	updates  map[uuid.UUID][]domain.SearchStatusUpdate

	UpdateStatusErr error
}

func NewMemorySearchStore() *MemorySearchStore {
	return &MemorySearchStore{
		searches: make(map[uuid.UUID]domain.ImageSearch),
		updates:  make(map[uuid.UUID][]domain.SearchStatusUpdate),
	}
}

func (s *MemorySearchStore) PutSearch(search domain.ImageSearch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches[search.ID] = search
}

// Updates returns the status updates applied to a search, in order.
func (s *MemorySearchStore) Updates(searchID uuid.UUID) []domain.SearchStatusUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SearchStatusUpdate(nil), s.updates[searchID]...)
}

func (s *MemorySearchStore) PendingSearches(ctx context.Context, limit int) ([]domain.ImageSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ImageSearch
	for _, search := range s.searches {
		if search.SearchStatus != domain.SearchToWork {
			continue
		}
		out = append(out, search)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemorySearchStore) RecalculationCandidates(ctx context.Context, limit, hoursOld int) ([]domain.ImageSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-time.Duration(hoursOld) * time.Hour)

	var out []domain.ImageSearch
	for _, search := range s.searches {
		if search.SearchStatus != domain.SearchCompleted || search.SimilarityStatus != domain.SimilarityMatchesFound {
			continue
		}
		if hoursOld > 0 && !search.ProcessedAt.IsZero() && search.ProcessedAt.After(cutoff) {
			continue
		}
		out = append(out, search)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemorySearchStore) GetSearch(ctx context.Context, searchID uuid.UUID) (domain.ImageSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search, ok := s.searches[searchID]
	if !ok {
		return domain.ImageSearch{}, fmt.Errorf("search not found: %s", searchID)
	}
	return search, nil
}

func (s *MemorySearchStore) UpdateStatus(ctx context.Context, searchID uuid.UUID, update domain.SearchStatusUpdate) error {
	if s.UpdateStatusErr != nil {
		return s.UpdateStatusErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	search, ok := s.searches[searchID]
	if !ok {
		return fmt.Errorf("search not found: %s", searchID)
	}

	search.SearchStatus = update.SearchStatus
	if update.SimilarityStatus != nil {
		search.SimilarityStatus = *update.SimilarityStatus
	}
	if update.TotalMatches != nil {
		search.TotalMatches = *update.TotalMatches
	}
	if update.SearchStatus == domain.SearchCompleted {
		search.ProcessedAt = time.Now().UTC()
	}
	s.searches[searchID] = search
	s.updates[searchID] = append(s.updates[searchID], update)
	return nil
}

// MemoryResultCache is an in-memory result cache that counts writes.
type MemoryResultCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]domain.CachedResults
	puts    int

	PutErr error
}

func NewMemoryResultCache() *MemoryResultCache {
	return &MemoryResultCache{entries: make(map[uuid.UUID]domain.CachedResults)}
}

func (c *MemoryResultCache) Put(ctx context.Context, searchID uuid.UUID, results domain.CachedResults, ttl time.Duration) error {
	if c.PutErr != nil {
		return c.PutErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[searchID] = results
	c.puts++
	return nil
}

func (c *MemoryResultCache) Get(ctx context.Context, searchID uuid.UUID) (domain.CachedResults, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results, ok := c.entries[searchID]
	return results, ok, nil
}

func (c *MemoryResultCache) PutCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.puts
}

func (c *MemoryResultCache) Close() error {
	return nil
}
