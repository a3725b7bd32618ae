package extractor

import (
	"context"
	"sync/atomic"

	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
)

// MockExtractor is a deterministic extractor for tests and model-less runs.
// Each layer pools the mean R, G and B of a square grid of cells, so images
// with different content get different activations and a crop of an image
// behaves like the region it came from.
type MockExtractor struct {
	images atomic.Int64
}

// NewMockExtractor returns a mock extractor.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// mockGrid is the pooling grid size per layer.
var mockGrid = map[models.LayerID]int{
	models.LayerMobilenet12d: 2,
	models.LayerGooglenet4d:  4,
	models.LayerGooglenet5b:  3,
}

const mockBias = 0.05

// MockLayerSize returns the activation length the mock produces for layer.
func MockLayerSize(layer models.LayerID) int {
	g := mockGrid[layer]
	return g * g * 3
}

// Extract implements Extractor.
func (m *MockExtractor) Extract(ctx context.Context, layers []models.LayerID, images []picture.Pixels) ([]Activations, error) {
	if len(images) == 0 {
		return []Activations{}, nil
	}
	groups, err := groupLayers(layers)
	if err != nil {
		return nil, err
	}
	if err := validateImages(images); err != nil {
		return nil, err
	}
	results := newResults(len(images))
	rgb := make([]float32, picture.Size*picture.Size*3)
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img.Rescale(rgb, 0, 1)
		for _, g := range groups {
			for _, l := range g.layers {
				results[i][l.ID] = pool(rgb, mockGrid[l.ID])
			}
		}
		m.images.Add(1)
	}
	return results, nil
}

// Images returns how many images have been processed.
func (m *MockExtractor) Images() int64 {
	return m.images.Load()
}

// Close is a no-op.
func (m *MockExtractor) Close() error {
	return nil
}

func pool(rgb []float32, grid int) []float32 {
	out := make([]float32, grid*grid*3)
	counts := make([]int, grid*grid)
	for y := 0; y < picture.Size; y++ {
		cy := y * grid / picture.Size
		for x := 0; x < picture.Size; x++ {
			cell := cy*grid + x*grid/picture.Size
			p := (y*picture.Size + x) * 3
			out[cell*3] += rgb[p]
			out[cell*3+1] += rgb[p+1]
			out[cell*3+2] += rgb[p+2]
			counts[cell]++
		}
	}
	for c, n := range counts {
		for k := 0; k < 3; k++ {
			out[c*3+k] = out[c*3+k]/float32(n) + mockBias
		}
	}
	return out
}
