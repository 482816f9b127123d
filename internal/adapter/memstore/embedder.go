package memstore

import (
	"context"
	"fmt"
)

// StaticEmbedder returns pre-seeded vectors per URL. URLs listed in FailURLs
// fail; unknown URLs fail too, so tests control the whole surface.
type StaticEmbedder struct {
	Vectors  map[string][]float32
	FailURLs map[string]bool
	Dim      int
}

func NewStaticEmbedder(dim int) *StaticEmbedder {
	return &StaticEmbedder{
		Vectors:  make(map[string][]float32),
		FailURLs: make(map[string]bool),
		Dim:      dim,
	}
}

func (e *StaticEmbedder) Initialize(ctx context.Context) error {
	return nil
}

func (e *StaticEmbedder) Generate(ctx context.Context, imageURL string) ([]float32, error) {
	if e.FailURLs[imageURL] {
		return nil, fmt.Errorf("embedding failed for %s", imageURL)
	}
	vector, ok := e.Vectors[imageURL]
	if !ok {
		return nil, fmt.Errorf("no vector for %s", imageURL)
	}
	return vector, nil
}

func (e *StaticEmbedder) GenerateBatch(ctx context.Context, imageURLs []string) ([][]float32, error) {
	out := make([][]float32, len(imageURLs))
	for i, imageURL := range imageURLs {
		vector, err := e.Generate(ctx, imageURL)
		if err != nil {
			continue
		}
		out[i] = vector
	}
	return out, nil
}

func (e *StaticEmbedder) Validate(ctx context.Context, imageURL string) bool {
	return !e.FailURLs[imageURL] && e.Vectors[imageURL] != nil
}

func (e *StaticEmbedder) Dimension() int {
	return e.Dim
}

func (e *StaticEmbedder) ModelName() string {
	return "static"
}
