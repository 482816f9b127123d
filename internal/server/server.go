// Package server exposes the HTTP façade for manual triggers, health and stats.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"visearch/internal/port"
	"visearch/internal/usecase"
)

// Options wires the server to the use cases and the index.
type Options struct {
	Addr   string
	APIKey string

	Embed  *usecase.EmbedUseCase
	Search *usecase.SearchUseCase
	Index  port.VectorIndex

	EvidenceBatchSize int
	SearchBatchSize   int
	RecalcHoursOld    int

	Logger *slog.Logger
}

// Server is the HTTP façade. Health reports 503 until SetReady is called.
type Server struct {
	opts  Options
	log   *slog.Logger
	ready atomic.Bool
	http  *http.Server
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EvidenceBatchSize <= 0 {
		opts.EvidenceBatchSize = 50
	}
	if opts.SearchBatchSize <= 0 {
		opts.SearchBatchSize = 10
	}

	s := &Server{opts: opts, log: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/embed/evidence", s.auth(s.handleEmbedEvidence))
	mux.HandleFunc("POST /api/v1/search/manual", s.auth(s.handleSearchManual))
	mux.HandleFunc("POST /api/v1/process/evidences", s.auth(s.handleProcessEvidences))
	mux.HandleFunc("POST /api/v1/process/searches", s.auth(s.handleProcessSearches))
	mux.HandleFunc("POST /api/v1/recalculate/searches", s.auth(s.handleRecalculate))
	mux.HandleFunc("POST /api/v1/recalculate/search/{id}", s.auth(s.handleRecalculateSingle))
	mux.HandleFunc("GET /api/v1/stats", s.auth(s.handleStats))

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// SetReady flips the health endpoint to healthy.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.opts.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// auth enforces the X-API-Key header when a service key is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && r.Header.Get("X-API-Key") != s.opts.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  "service not fully initialized",
		})
		return
	}

	stats, err := s.opts.Index.Stats(r.Context())
	if err != nil {
		s.log.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"components": map[string]bool{
			"embedder":  s.opts.Embed != nil,
			"vector_db": s.opts.Index != nil,
			"search":    s.opts.Search != nil,
		},
		"vector_db_stats": map[string]any{
			"collection": stats.Collection,
			"points":     stats.Points,
			"status":     stats.Status,
		},
	})
}

func (s *Server) handleEmbedEvidence(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	evidenceID, err := uuid.Parse(query.Get("evidence_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid evidence_id: "+err.Error())
		return
	}
	cameraID, err := uuid.Parse(query.Get("camera_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid camera_id: "+err.Error())
		return
	}
	imageURL := query.Get("image_url")
	if imageURL == "" {
		writeError(w, http.StatusBadRequest, "image_url is required")
		return
	}

	resp := s.opts.Embed.EmbedSingle(r.Context(), usecase.EvidenceEmbeddingRequest{
		EvidenceID: evidenceID,
		CameraID:   cameraID,
		ImageURL:   imageURL,
	})
	if !resp.Success {
		writeError(w, http.StatusBadRequest, resp.ErrorMessage)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"evidence_id":      resp.EvidenceID.String(),
		"embedding_id":     resp.EmbeddingID,
		"vector_dimension": resp.VectorDimension,
	})
}

// manualResultLimit caps the result list echoed back by the manual search
// endpoint; the full set still lands in the cache and status metadata.
const manualResultLimit = 10

func (s *Server) handleSearchManual(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	searchID, err := uuid.Parse(query.Get("search_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid search_id: "+err.Error())
		return
	}
	userID, err := uuid.Parse(query.Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id: "+err.Error())
		return
	}
	imageURL := query.Get("image_url")
	if imageURL == "" {
		writeError(w, http.StatusBadRequest, "image_url is required")
		return
	}

	req := usecase.ImageSearchRequest{
		SearchID: searchID,
		UserID:   userID,
		ImageURL: imageURL,
	}
	if raw := query.Get("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 32)
		if err != nil || threshold < 0 || threshold > 1 {
			writeError(w, http.StatusBadRequest, "threshold must be a number in [0, 1]")
			return
		}
		req.Threshold = float32(threshold)
	}
	if raw := query.Get("max_results"); raw != "" {
		maxResults, err := strconv.Atoi(raw)
		if err != nil || maxResults <= 0 {
			writeError(w, http.StatusBadRequest, "max_results must be a positive integer")
			return
		}
		req.MaxResults = maxResults
	}

	resp := s.opts.Search.Execute(r.Context(), req, false)
	if !resp.Success {
		writeError(w, http.StatusBadRequest, resp.ErrorMessage)
		return
	}

	results := resp.Results
	if len(results) > manualResultLimit {
		results = results[:manualResultLimit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"search_id":      resp.SearchID.String(),
		"total_matches":  resp.TotalMatches,
		"search_time_ms": resp.SearchTimeMs,
		"results":        results,
	})
}

func (s *Server) handleProcessEvidences(w http.ResponseWriter, r *http.Request) {
	result := s.opts.Embed.RunBatch(r.Context(), s.opts.EvidenceBatchSize, nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"total_processed":    result.TotalProcessed,
		"successful":         result.Successful,
		"failed":             result.Failed,
		"processing_time_ms": result.ProcessingTimeMs,
	})
}

func (s *Server) handleProcessSearches(w http.ResponseWriter, r *http.Request) {
	responses := s.opts.Search.ProcessPending(r.Context(), s.opts.SearchBatchSize, nil)

	successful := 0
	for _, resp := range responses {
		if resp.Success {
			successful++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"total_processed": len(responses),
		"successful":      successful,
		"failed":          len(responses) - successful,
	})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var responses []usecase.ImageSearchResponse
	var skipped []uuid.UUID
	mode := "batch"

	if rawIDs := query["search_ids"]; len(rawIDs) > 0 {
		mode = "specific"
		ids := make([]uuid.UUID, 0, len(rawIDs))
		for _, raw := range rawIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid search id: "+raw)
				return
			}
			ids = append(ids, id)
		}
		responses, skipped = s.opts.Search.RecalculateByIDs(r.Context(), ids)
	} else {
		limit := 10
		if raw := query.Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}
		hoursOld := s.opts.RecalcHoursOld
		if raw := query.Get("hours_old"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				writeError(w, http.StatusBadRequest, "hours_old must be a positive integer")
				return
			}
			hoursOld = parsed
		}
		if query.Get("force_all") == "true" {
			mode = "all"
			limit = 1000
		}
		responses = s.opts.Search.Recalculate(r.Context(), limit, hoursOld, nil)
	}

	successful := 0
	for _, resp := range responses {
		if resp.Success {
			successful++
		}
	}
	body := map[string]any{
		"success":         true,
		"total_processed": len(responses),
		"successful":      successful,
		"failed":          len(responses) - successful,
		"mode":            mode,
	}
	if len(skipped) > 0 {
		ids := make([]string, len(skipped))
		for i, id := range skipped {
			ids[i] = id.String()
		}
		body["skipped"] = ids
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRecalculateSingle(w http.ResponseWriter, r *http.Request) {
	searchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid search id: "+r.PathValue("id"))
		return
	}

	responses, skipped := s.opts.Search.RecalculateByIDs(r.Context(), []uuid.UUID{searchID})
	if len(skipped) > 0 {
		writeError(w, http.StatusBadRequest, "search not eligible for recalculation: "+searchID.String())
		return
	}
	if len(responses) == 0 || !responses[0].Success {
		msg := "recalculation failed"
		if len(responses) > 0 {
			msg = responses[0].ErrorMessage
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"search_id":     searchID.String(),
		"total_matches": responses[0].TotalMatches,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.opts.Index.Stats(r.Context())
	if err != nil {
		s.log.Error("failed to fetch index stats", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":         "visearch",
		"vector_database": stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
