// Package embedding provides image and text embedding for semantic search.
// The real implementation runs a CLIP model through ONNX Runtime; a
// deterministic mock is available for tests and development.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces fixed-dimension embeddings for images and text. Image and
// text embeddings share one vector space, so a text query can rank images.
// Implementations are not required to return unit vectors; the index manager
// normalizes once on receipt.
type Embedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Provider identifies an embedder implementation.
type Provider string

const (
	// ProviderCLIP runs CLIP image and text encoders through ONNX Runtime.
	// Requires CGO and the onnxruntime shared library.
	ProviderCLIP Provider = "clip"
	// ProviderMock produces deterministic hash-based embeddings. For tests
	// and development without a model.
	ProviderMock Provider = "mock"
)

// Options configures NewEmbedder.
type Options struct {
	ImageModelPath string
	TextModelPath  string
	Dimensions     int
	MaxTokens      int
}

// NewEmbedder creates an embedder for the given provider.
func NewEmbedder(provider string, opts Options) (Embedder, error) {
	switch Provider(provider) {
	case ProviderCLIP, "":
		return NewCLIPEmbedder(opts)
	case ProviderMock:
		return NewMockEmbedder(opts.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: clip, mock)", provider)
	}
}
