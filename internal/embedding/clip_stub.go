//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// CLIPEmbedder stub type when built without CGO (see clip.go for the real
// implementation).
type CLIPEmbedder struct{}

// NewCLIPEmbedder returns an error when built without CGO (ONNX Runtime not
// available).
func NewCLIPEmbedder(_ Options) (*CLIPEmbedder, error) {
	return nil, errors.New("CLIP embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (e *CLIPEmbedder) EmbedImage(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("CLIP embedder not available")
}

func (e *CLIPEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("CLIP embedder not available")
}

func (e *CLIPEmbedder) Dimensions() int { return 0 }

func (e *CLIPEmbedder) Close() error { return nil }
