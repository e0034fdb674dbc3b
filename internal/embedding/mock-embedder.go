package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"os"
)

// MockEmbedder is a deterministic embedder for tests. It derives a
// fixed-dimension unit vector from the input's hash, so the same path or text
// always gets the same embedding and distinct inputs almost never collide.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of
// the given dimensions (default 512).
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{dimensions: dimensions}
}

// EmbedImage returns a deterministic embedding derived from the file path.
// The file must exist; a missing file is an error so that provider-failure
// handling can be exercised in tests.
func (e *MockEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return e.fromString(path), nil
}

// EmbedText returns a deterministic embedding derived from the text.
func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.fromString(text), nil
}

func (e *MockEmbedder) fromString(s string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	seed := h.Sum64()
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(seed%1000003)*float64(i+1)) * 0.1)
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := float32(1.0 / math.Sqrt(sum))
		for i := range emb {
			emb[i] *= norm
		}
	}
	return emb
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
