// Package embedding provides image embedding adapters.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ClipEmbedder generates image embeddings through a CLIP model server.
type ClipEmbedder struct {
	model     string
	serverURL string
	dimension int

	client         *http.Client
	downloadClient *http.Client
	maxImageBytes  int64
	supportedGlobs []string
	log            *slog.Logger
}

// ClipOptions configures a ClipEmbedder.
type ClipOptions struct {
	Model           string
	ServerURL       string
	Dimension       int
	Timeout         time.Duration
	DownloadTimeout time.Duration
	MaxImageBytes   int64
	SupportedGlobs  []string
	Logger          *slog.Logger
}

type clipRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images"`
}

type clipResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func NewClipEmbedder(opts ClipOptions) *ClipEmbedder {
	if opts.Dimension <= 0 {
		opts.Dimension = 512
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Second
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 10 << 20
	}
	if len(opts.SupportedGlobs) == 0 {
		opts.SupportedGlobs = []string{"*.jpg", "*.jpeg", "*.png", "*.webp"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &ClipEmbedder{
		model:          opts.Model,
		serverURL:      strings.TrimRight(opts.ServerURL, "/"),
		dimension:      opts.Dimension,
		client:         &http.Client{Timeout: opts.Timeout},
		downloadClient: &http.Client{Timeout: opts.DownloadTimeout},
		maxImageBytes:  opts.MaxImageBytes,
		supportedGlobs: opts.SupportedGlobs,
		log:            opts.Logger,
	}
}

// Initialize checks that the model server answers its health endpoint.
func (e *ClipEmbedder) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Generate downloads the image, sends it to the model server and returns an
// L2-normalized embedding vector.
func (e *ClipEmbedder) Generate(ctx context.Context, imageURL string) ([]float32, error) {
	data, err := e.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	vectors, err := e.embed(ctx, [][]byte{data})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("model server returned %d embeddings for 1 image", len(vectors))
	}
	return vectors[0], nil
}

// GenerateBatch embeds several images. The result is positional: a failed
// image leaves a nil vector at its index instead of failing the batch.
func (e *ClipEmbedder) GenerateBatch(ctx context.Context, imageURLs []string) ([][]float32, error) {
	if len(imageURLs) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(imageURLs))
	for i, imageURL := range imageURLs {
		vector, err := e.Generate(ctx, imageURL)
		if err != nil {
			e.log.Warn("failed to embed image", "url", imageURL, "error", err)
			continue
		}
		results[i] = vector
	}
	return results, nil
}

// Validate reports whether the URL looks like a supported image without
// downloading its body.
func (e *ClipEmbedder) Validate(ctx context.Context, imageURL string) bool {
	if !e.supportedURL(imageURL) {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return false
	}
	resp, err := e.downloadClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (e *ClipEmbedder) Dimension() int {
	return e.dimension
}

func (e *ClipEmbedder) ModelName() string {
	return e.model
}

// supportedURL checks the scheme and matches the path base name against the
// configured extension patterns.
func (e *ClipEmbedder) supportedURL(imageURL string) bool {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	name := strings.ToLower(path.Base(parsed.Path))
	for _, pattern := range e.supportedGlobs {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (e *ClipEmbedder) download(ctx context.Context, imageURL string) ([]byte, error) {
	if !e.supportedURL(imageURL) {
		return nil, fmt.Errorf("unsupported image URL: %s", imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > e.maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", e.maxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image body")
	}
	return data, nil
}

func (e *ClipEmbedder) embed(ctx context.Context, images [][]byte) ([][]float32, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}

	jsonData, err := json.Marshal(clipRequest{Model: e.model, Images: encoded})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, string(body))
	}

	var clipResp clipResponse
	if err := json.Unmarshal(body, &clipResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if clipResp.Error != "" {
		return nil, fmt.Errorf("model server error: %s", clipResp.Error)
	}
	if len(clipResp.Embeddings) != len(images) {
		return nil, fmt.Errorf("model server returned %d embeddings for %d images", len(clipResp.Embeddings), len(images))
	}

	vectors := make([][]float32, len(clipResp.Embeddings))
	for i, vector := range clipResp.Embeddings {
		if len(vector) != e.dimension {
			return nil, fmt.Errorf("embedding dimension %d, expected %d", len(vector), e.dimension)
		}
		vectors[i] = normalize(vector)
	}
	return vectors, nil
}

// normalize scales a vector to unit length. Zero vectors pass through.
func normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = v / norm
	}
	return out
}
