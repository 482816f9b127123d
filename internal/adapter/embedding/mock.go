package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder produces deterministic unit vectors derived from the image
// URL. Useful for local runs and tests without a model server.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Initialize(ctx context.Context) error {
	return nil
}

func (e *MockEmbedder) Generate(ctx context.Context, imageURL string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(imageURL))
	seed := h.Sum64()

	vector := make([]float32, e.dimension)
	var sum float64
	for i := range vector {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed>>33)) / float32(1<<31)
		vector[i] = v
		sum += float64(v) * float64(v)
	}

	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
	return vector, nil
}

func (e *MockEmbedder) GenerateBatch(ctx context.Context, imageURLs []string) ([][]float32, error) {
	vectors := make([][]float32, len(imageURLs))
	for i, imageURL := range imageURLs {
		vector, err := e.Generate(ctx, imageURL)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *MockEmbedder) Validate(ctx context.Context, imageURL string) bool {
	return imageURL != ""
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
