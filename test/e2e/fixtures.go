// Package e2e exercises the whole stack through the HTTP API with the mock
// embedder standing in for the CLIP model.
package e2e

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// Fixture describes one test image to create in a folder.
type Fixture struct {
	Name string
	Fill color.RGBA
}

// DefaultFixtures is a small photo folder: three distinct images plus a file
// the indexer must ignore.
var DefaultFixtures = []Fixture{
	{Name: "red_car.jpg", Fill: color.RGBA{R: 200, G: 30, B: 30, A: 255}},
	{Name: "blue_sky.png", Fill: color.RGBA{R: 40, G: 90, B: 220, A: 255}},
	{Name: "green_field.webp", Fill: color.RGBA{R: 40, G: 180, B: 60, A: 255}},
}

// WriteFixtures creates the given images in folder and returns their paths
// in fixture order. The content is a small PNG regardless of extension; the
// mock embedder keys on paths, and the scan layer keys on extensions, so
// real format variety is not needed here.
func WriteFixtures(t *testing.T, folder string, fixtures []Fixture) []string {
	t.Helper()
	paths := make([]string, len(fixtures))
	for i, f := range fixtures {
		p := filepath.Join(folder, f.Name)
		writePNG(t, p, f.Fill)
		paths[i] = p
	}
	if err := os.WriteFile(filepath.Join(folder, "notes.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	return paths
}

func writePNG(t *testing.T, path string, fill color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, fill)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}
