package embedding

import (
	"fmt"
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// CLIP input normalization constants (per channel, RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// loadImageTensor decodes the image at path, scales it to size x size, and
// returns CLIP-normalized CHW float32 data of length 3*size*size.
func loadImageTensor(path string, size int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return imageToTensor(src, size), nil
}

func imageToTensor(src image.Image, size int) []float32 {
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)

	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := scaled.PixOffset(x, y)
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(scaled.Pix[off+c]) / 255.0
				data[c*plane+i] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return data
}
