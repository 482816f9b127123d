package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"visearch/internal/adapter/memstore"
	"visearch/internal/domain"
	"visearch/internal/usecase"
)

type fixture struct {
	server    *Server
	searches  *memstore.MemorySearchStore
	evidences *memstore.MemoryEvidenceStore
	index     *memstore.MemoryVectorIndex
	embedder  *memstore.StaticEmbedder
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()

	f := &fixture{
		searches:  memstore.NewMemorySearchStore(),
		evidences: memstore.NewMemoryEvidenceStore(),
		index:     memstore.NewMemoryVectorIndex(),
		embedder:  memstore.NewStaticEmbedder(4),
	}
	cache := memstore.NewMemoryResultCache()

	f.server = New(Options{
		Addr:   ":0",
		APIKey: apiKey,
		Embed:  usecase.NewEmbedUseCase(f.evidences, f.index, f.embedder, false, nil),
		Search: usecase.NewSearchUseCase(f.searches, f.index, f.embedder, cache, time.Hour, nil),
		Index:  f.index,
	})
	f.server.SetReady(true)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestHealth_NotReady(t *testing.T) {
	f := newFixture(t, "")
	f.server.SetReady(false)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestHealth_Ready(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("body: %v", body)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	f := newFixture(t, "topsecret")

	rec := f.do(t, http.MethodPost, "/api/v1/process/evidences", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/process/evidences", map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/process/evidences", map[string]string{"X-API-Key": "topsecret"})
	if rec.Code != http.StatusOK {
		t.Errorf("valid key: got %d", rec.Code)
	}

	// Health stays open.
	rec = f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health with key configured: got %d", rec.Code)
	}
}

func TestEmbedEvidence_BadUUID(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/embed/evidence?evidence_id=nope&camera_id="+uuid.NewString()+"&image_url=http://x/1.jpg", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestEmbedEvidence_Success(t *testing.T) {
	f := newFixture(t, "")
	f.embedder.Vectors["http://img/1.jpg"] = []float32{1, 0, 0, 0}

	path := "/api/v1/embed/evidence?" + url.Values{
		"evidence_id": {uuid.NewString()},
		"camera_id":   {uuid.NewString()},
		"image_url":   {"http://img/1.jpg"},
	}.Encode()

	rec := f.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["embedding_id"] == "" {
		t.Error("expected embedding id")
	}
	if body["vector_dimension"] != float64(4) {
		t.Errorf("dimension: got %v", body["vector_dimension"])
	}
}

func TestSearchManual_FailureIs400(t *testing.T) {
	f := newFixture(t, "")
	f.embedder.FailURLs["http://img/q.jpg"] = true

	path := "/api/v1/search/manual?" + url.Values{
		"search_id": {uuid.NewString()},
		"user_id":   {uuid.NewString()},
		"image_url": {"http://img/q.jpg"},
	}.Encode()

	rec := f.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestSearchManual_Success(t *testing.T) {
	f := newFixture(t, "")
	f.embedder.Vectors["http://img/q.jpg"] = []float32{1, 0, 0, 0}
	f.index.Store(context.Background(), domain.ImageEmbedding{
		ID:     uuid.NewString(),
		Vector: []float32{1, 0, 0, 0},
		Payload: map[string]any{
			"source_type": domain.SourceTypeEvidence,
			"evidence_id": "ev-1",
		},
	})

	path := "/api/v1/search/manual?" + url.Values{
		"search_id":  {uuid.NewString()},
		"user_id":    {uuid.NewString()},
		"image_url":  {"http://img/q.jpg"},
		"threshold":  {"0.5"},
		"max_results": {"5"},
	}.Encode()

	rec := f.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["total_matches"] != float64(1) {
		t.Errorf("total_matches: got %v", body["total_matches"])
	}
}

func TestSearchManual_InvalidThreshold(t *testing.T) {
	f := newFixture(t, "")

	path := "/api/v1/search/manual?" + url.Values{
		"search_id": {uuid.NewString()},
		"user_id":   {uuid.NewString()},
		"image_url": {"http://img/q.jpg"},
		"threshold": {"1.5"},
	}.Encode()

	rec := f.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestProcessSearches_AlwaysOK(t *testing.T) {
	f := newFixture(t, "")

	// One search whose image embedding fails: the batch endpoint still
	// answers 200 with failure counts.
	search := domain.ImageSearch{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		ImageURL:     "http://img/q.jpg",
		SearchStatus: domain.SearchToWork,
	}
	f.searches.PutSearch(search)
	f.embedder.FailURLs[search.ImageURL] = true

	rec := f.do(t, http.MethodPost, "/api/v1/process/searches", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["failed"] != float64(1) {
		t.Errorf("failed count: got %v", body["failed"])
	}
}

func TestRecalculate_SpecificIDs(t *testing.T) {
	f := newFixture(t, "")

	eligible := domain.ImageSearch{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ImageURL:         "http://img/q.jpg",
		SearchStatus:     domain.SearchCompleted,
		SimilarityStatus: domain.SimilarityMatchesFound,
	}
	f.searches.PutSearch(eligible)
	f.embedder.Vectors[eligible.ImageURL] = []float32{1, 0, 0, 0}

	path := "/api/v1/recalculate/searches?search_ids=" + eligible.ID.String() + "&search_ids=" + uuid.NewString()
	rec := f.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["mode"] != "specific" {
		t.Errorf("mode: got %v", body["mode"])
	}
	if body["total_processed"] != float64(1) {
		t.Errorf("total_processed: got %v", body["total_processed"])
	}
	if skipped, ok := body["skipped"].([]any); !ok || len(skipped) != 1 {
		t.Errorf("skipped: got %v", body["skipped"])
	}
}

func TestRecalculate_BadID(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/recalculate/searches?search_ids=not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestRecalculateSingle(t *testing.T) {
	f := newFixture(t, "")

	eligible := domain.ImageSearch{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ImageURL:         "http://img/q.jpg",
		SearchStatus:     domain.SearchCompleted,
		SimilarityStatus: domain.SimilarityMatchesFound,
	}
	f.searches.PutSearch(eligible)
	f.embedder.Vectors[eligible.ImageURL] = []float32{1, 0, 0, 0}

	rec := f.do(t, http.MethodPost, "/api/v1/recalculate/search/"+eligible.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rec.Code, rec.Body.String())
	}

	// Ineligible search.
	pending := domain.ImageSearch{ID: uuid.New(), SearchStatus: domain.SearchToWork}
	f.searches.PutSearch(pending)
	rec = f.do(t, http.MethodPost, "/api/v1/recalculate/search/"+pending.ID.String(), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ineligible: got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, "")
	f.index.Store(context.Background(), domain.ImageEmbedding{
		ID:     uuid.NewString(),
		Vector: []float32{1, 0, 0, 0},
	})

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := decode(t, rec)
	db, ok := body["vector_database"].(map[string]any)
	if !ok {
		t.Fatalf("body: %v", body)
	}
	if db["points_count"] != float64(1) {
		t.Errorf("points: got %v", db["points_count"])
	}
}
