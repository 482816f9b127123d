// Package recordstore implements the video server HTTP client.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"visearch/internal/domain"
)

// Client talks to the video server's internal API. It implements the
// evidence store, the search store and the remote result cache.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		log:     opts.Logger,
	}
}

type evidenceItem struct {
	ID          uuid.UUID      `json:"id"`
	CameraID    uuid.UUID      `json:"camera_id"`
	Status      int            `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	JSONData    map[string]any `json:"json_data,omitempty"`
}

type evidenceListResponse struct {
	Evidences []evidenceItem `json:"evidences"`
}

type searchItem struct {
	ID               uuid.UUID      `json:"id"`
	UserID           uuid.UUID      `json:"user_id"`
	ImageURL         string         `json:"image_url"`
	SearchStatus     int            `json:"search_status"`
	SimilarityStatus int            `json:"similarity_status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ResultsKey       string         `json:"results_key,omitempty"`
	TotalMatches     int            `json:"total_matches"`
}

type searchListResponse struct {
	Searches []searchItem `json:"searches"`
}

type statusUpdateRequest struct {
	SearchStatus     int            `json:"search_status"`
	SimilarityStatus *int           `json:"similarity_status,omitempty"`
	TotalMatches     *int           `json:"total_matches,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ProcessedAt      string         `json:"processed_at,omitempty"`
}

// UnembeddedEvidences fetches evidences in FOUND status awaiting embedding.
func (c *Client) UnembeddedEvidences(ctx context.Context, limit int) ([]domain.Evidence, error) {
	endpoint := c.baseURL + "/api/v1/evidences/internal/evidences/for-embedding?" +
		url.Values{"limit": {strconv.Itoa(limit)}}.Encode()

	var payload evidenceListResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch unembedded evidences: %w", err)
	}

	evidences := make([]domain.Evidence, len(payload.Evidences))
	for i, item := range payload.Evidences {
		evidences[i] = domain.Evidence{
			ID:          item.ID,
			CameraID:    item.CameraID,
			Status:      domain.EvidenceStatus(item.Status),
			CreatedAt:   item.CreatedAt,
			UpdatedAt:   deref(item.UpdatedAt),
			ProcessedAt: deref(item.ProcessedAt),
			Payload:     item.JSONData,
		}
	}
	c.log.Debug("fetched unembedded evidences", "count", len(evidences))
	return evidences, nil
}

// MarkEmbedded transitions an evidence to EMBEDDED with its embedding ids.
func (c *Client) MarkEmbedded(ctx context.Context, evidenceID uuid.UUID, embeddingIDs []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/evidences/internal/evidences/%s/embedded", c.baseURL, evidenceID)
	body := map[string]any{"embedding_ids": embeddingIDs}

	if err := c.doJSON(ctx, http.MethodPatch, endpoint, body, nil); err != nil {
		return fmt.Errorf("mark evidence %s embedded: %w", evidenceID, err)
	}
	return nil
}

// PendingSearches fetches searches in TO_WORK status.
func (c *Client) PendingSearches(ctx context.Context, limit int) ([]domain.ImageSearch, error) {
	endpoint := c.baseURL + "/api/v1/internal/image-search/pending?" +
		url.Values{"limit": {strconv.Itoa(limit)}}.Encode()

	var payload searchListResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch pending searches: %w", err)
	}
	return toSearches(payload.Searches), nil
}

// RecalculationCandidates fetches completed searches with matches older than
// hoursOld hours. Zero hoursOld leaves the age filter to the server default.
func (c *Client) RecalculationCandidates(ctx context.Context, limit, hoursOld int) ([]domain.ImageSearch, error) {
	values := url.Values{"limit": {strconv.Itoa(limit)}}
	if hoursOld > 0 {
		values.Set("hours_old", strconv.Itoa(hoursOld))
	}
	endpoint := c.baseURL + "/api/v1/internal/image-search/recalculate?" + values.Encode()

	var payload searchListResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch recalculation candidates: %w", err)
	}
	return toSearches(payload.Searches), nil
}

// GetSearch fetches one search by id.
func (c *Client) GetSearch(ctx context.Context, searchID uuid.UUID) (domain.ImageSearch, error) {
	endpoint := fmt.Sprintf("%s/api/v1/internal/image-search/%s", c.baseURL, searchID)

	var item searchItem
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &item); err != nil {
		return domain.ImageSearch{}, fmt.Errorf("fetch search %s: %w", searchID, err)
	}
	return toSearch(item), nil
}

// UpdateStatus applies a status transition. A processed_at timestamp is
// attached when the search completes.
func (c *Client) UpdateStatus(ctx context.Context, searchID uuid.UUID, update domain.SearchStatusUpdate) error {
	endpoint := fmt.Sprintf("%s/api/v1/internal/image-search/%s/status", c.baseURL, searchID)

	body := statusUpdateRequest{
		SearchStatus: int(update.SearchStatus),
		TotalMatches: update.TotalMatches,
		Metadata:     update.Metadata,
	}
	if update.SimilarityStatus != nil {
		v := int(*update.SimilarityStatus)
		body.SimilarityStatus = &v
	}
	if update.SearchStatus == domain.SearchCompleted {
		body.ProcessedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := c.doJSON(ctx, http.MethodPatch, endpoint, body, nil); err != nil {
		return fmt.Errorf("update search %s status: %w", searchID, err)
	}
	return nil
}

// Put stores search results in the video server's redis-backed cache. The
// server owns the expiry, so the ttl only travels as a hint.
func (c *Client) Put(ctx context.Context, searchID uuid.UUID, results domain.CachedResults, ttl time.Duration) error {
	endpoint := fmt.Sprintf("%s/api/v1/internal/redis/image-search/%s", c.baseURL, searchID)

	body := map[string]any{
		"search_id":        searchID.String(),
		"search_image_url": results.SearchImageURL,
		"total_matches":    results.TotalMatches,
		"matches":          results.Matches,
		"processed_at":     time.Now().UTC().Format(time.RFC3339),
		"ttl_seconds":      int(ttl.Seconds()),
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		return fmt.Errorf("store results for search %s: %w", searchID, err)
	}
	return nil
}

// Get retrieves cached results for a search.
func (c *Client) Get(ctx context.Context, searchID uuid.UUID) (domain.CachedResults, bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/internal/redis/image-search/%s", c.baseURL, searchID)

	var results domain.CachedResults
	err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &results)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return domain.CachedResults{}, false, nil
		}
		return domain.CachedResults{}, false, fmt.Errorf("fetch results for search %s: %w", searchID, err)
	}
	return results, true, nil
}

// Close satisfies the result cache interface; the HTTP client holds no
// resources that outlive its requests.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.code, e.body)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(raw)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return &statusError{code: resp.StatusCode, body: preview}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func toSearches(items []searchItem) []domain.ImageSearch {
	searches := make([]domain.ImageSearch, len(items))
	for i, item := range items {
		searches[i] = toSearch(item)
	}
	return searches
}

func toSearch(item searchItem) domain.ImageSearch {
	return domain.ImageSearch{
		ID:               item.ID,
		UserID:           item.UserID,
		ImageURL:         item.ImageURL,
		SearchStatus:     domain.SearchStatus(item.SearchStatus),
		SimilarityStatus: domain.SimilarityStatus(item.SimilarityStatus),
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        deref(item.UpdatedAt),
		ProcessedAt:      deref(item.ProcessedAt),
		Metadata:         item.Metadata,
		ResultsKey:       item.ResultsKey,
		TotalMatches:     item.TotalMatches,
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
