// Package extractor computes activation vectors of normalized images at
// named network layers.
package extractor

import (
	"context"
	"fmt"

	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
)

// Activations maps a layer to its flattened activation vector for one image.
type Activations map[models.LayerID][]float32

// Extractor computes activations. Implementations are safe for concurrent use.
type Extractor interface {
	// Extract returns one Activations per image, in input order. Images must
	// be 224x224x3. An empty batch yields an empty result.
	Extract(ctx context.Context, layers []models.LayerID, images []picture.Pixels) ([]Activations, error)
	Close() error
}

// NetworkSpec is one row of the architecture table.
type NetworkSpec struct {
	Architecture models.Architecture
	// ModelFile is the default model file name.
	ModelFile string
	// InputLow and InputHigh are the pixel range the network was trained on.
	InputLow  float32
	InputHigh float32
}

var networkTable = []NetworkSpec{
	{Architecture: models.ArchGooglenet, ModelFile: "google_net_inception_v1.onnx", InputLow: -117, InputHigh: 138},
	{Architecture: models.ArchMobilenet, ModelFile: "mobilenet_v1_1.0_224.onnx", InputLow: 0, InputHigh: 1},
}

// Networks returns the architecture table.
func Networks() []NetworkSpec {
	return append([]NetworkSpec(nil), networkTable...)
}

// LookupNetwork returns the table row for arch.
func LookupNetwork(arch models.Architecture) (NetworkSpec, bool) {
	for _, n := range networkTable {
		if n.Architecture == arch {
			return n, true
		}
	}
	return NetworkSpec{}, false
}

// layerGroup is the set of requested layers owned by one network.
type layerGroup struct {
	spec   NetworkSpec
	layers []models.LayerInfo
}

// groupLayers validates layers and groups them by network in table order.
func groupLayers(layers []models.LayerID) ([]layerGroup, error) {
	byArch := make(map[models.Architecture][]models.LayerInfo)
	seen := make(map[models.LayerID]bool)
	for _, id := range layers {
		info, ok := models.LookupLayer(id)
		if !ok {
			return nil, fmt.Errorf("%w: unknown model layer %q", models.ErrInvalidInput, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		byArch[info.Architecture] = append(byArch[info.Architecture], info)
	}
	var groups []layerGroup
	for _, spec := range networkTable {
		if infos := byArch[spec.Architecture]; len(infos) > 0 {
			groups = append(groups, layerGroup{spec: spec, layers: infos})
		}
	}
	return groups, nil
}

func validateImages(images []picture.Pixels) error {
	for i, img := range images {
		if err := img.Validate(); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
	}
	return nil
}

func newResults(n int) []Activations {
	out := make([]Activations, n)
	for i := range out {
		out[i] = make(Activations)
	}
	return out
}
