//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const clipImageSize = 224

// CLIPEmbedder runs CLIP image and text encoders through ONNX Runtime. It
// requires CGO and the onnxruntime shared library. One session per encoder is
// created with pre-allocated tensors; Run calls update the input data in
// place, so each session is guarded by a mutex.
type CLIPEmbedder struct {
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	imageSession *ort.AdvancedSession
	imageInput   *ort.Tensor[float32]
	imageOutput  *ort.Tensor[float32]
	imageMu      sync.Mutex

	textSession *ort.AdvancedSession
	textInput   *ort.Tensor[int64]
	textOutput  *ort.Tensor[float32]
	textMu      sync.Mutex
}

// NewCLIPEmbedder creates a CLIP embedder from exported image and text
// encoder models. InitializeEnvironment is called if not already done.
func NewCLIPEmbedder(opts Options) (*CLIPEmbedder, error) {
	if opts.Dimensions <= 0 {
		opts.Dimensions = 512
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = clipContextLength
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	e := &CLIPEmbedder{
		dimensions: opts.Dimensions,
		maxTokens:  opts.MaxTokens,
		tokenizer:  &WordTokenizer{},
	}
	if err := e.initImageSession(opts.ImageModelPath); err != nil {
		return nil, err
	}
	if err := e.initTextSession(opts.TextModelPath); err != nil {
		e.destroyImageSession()
		return nil, err
	}
	return e, nil
}

func (e *CLIPEmbedder) initImageSession(modelPath string) error {
	input, err := ort.NewTensor(
		ort.NewShape(1, 3, clipImageSize, clipImageSize),
		make([]float32, 3*clipImageSize*clipImageSize),
	)
	if err != nil {
		return fmt.Errorf("failed to create image input tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(e.dimensions)), make([]float32, e.dimensions))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("failed to create image output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("failed to create image encoder session: %w", err)
	}
	e.imageSession, e.imageInput, e.imageOutput = session, input, output
	return nil
}

func (e *CLIPEmbedder) initTextSession(modelPath string) error {
	input, err := ort.NewTensor(ort.NewShape(1, int64(e.maxTokens)), make([]int64, e.maxTokens))
	if err != nil {
		return fmt.Errorf("failed to create text input tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(e.dimensions)), make([]float32, e.dimensions))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("failed to create text output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("failed to create text encoder session: %w", err)
	}
	e.textSession, e.textInput, e.textOutput = session, input, output
	return nil
}

// EmbedImage decodes, scales, and encodes the image at path.
func (e *CLIPEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	pixels, err := loadImageTensor(path, clipImageSize)
	if err != nil {
		return nil, err
	}

	e.imageMu.Lock()
	defer e.imageMu.Unlock()
	copy(e.imageInput.GetData(), pixels)
	if err := e.imageSession.Run(); err != nil {
		return nil, fmt.Errorf("image encoder inference failed: %w", err)
	}
	embedding := make([]float32, e.dimensions)
	copy(embedding, e.imageOutput.GetData()[:e.dimensions])
	return embedding, nil
}

// EmbedText tokenizes and encodes text.
func (e *CLIPEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ids := e.tokenizer.Tokenize(text, e.maxTokens)

	e.textMu.Lock()
	defer e.textMu.Unlock()
	copy(e.textInput.GetData(), ids)
	if err := e.textSession.Run(); err != nil {
		return nil, fmt.Errorf("text encoder inference failed: %w", err)
	}
	embedding := make([]float32, e.dimensions)
	copy(embedding, e.textOutput.GetData()[:e.dimensions])
	return embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *CLIPEmbedder) destroyImageSession() {
	if e.imageSession != nil {
		_ = e.imageSession.Destroy()
	}
	if e.imageInput != nil {
		e.imageInput.Destroy()
	}
	if e.imageOutput != nil {
		e.imageOutput.Destroy()
	}
}

// Close releases the ONNX sessions and tensors.
func (e *CLIPEmbedder) Close() error {
	e.destroyImageSession()
	if e.textSession != nil {
		_ = e.textSession.Destroy()
	}
	if e.textInput != nil {
		e.textInput.Destroy()
	}
	if e.textOutput != nil {
		e.textOutput.Destroy()
	}
	return nil
}
