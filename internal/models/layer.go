// Package models defines the shared data types of the CAV engine: layers,
// image references, crop rectangles and the error taxonomy.
package models

import "fmt"

// Architecture names a network that owns one or more layers.
type Architecture string

const (
	ArchGooglenet Architecture = "googlenet"
	ArchMobilenet Architecture = "mobilenet"
)

// LayerID names an extraction point inside one network architecture.
type LayerID string

const (
	LayerMobilenet12d LayerID = "mobilenet_12d"
	LayerGooglenet4d  LayerID = "googlenet_4d"
	LayerGooglenet5b  LayerID = "googlenet_5b"
)

// LayerInfo is one row of the closed layer table.
type LayerInfo struct {
	ID           LayerID
	Architecture Architecture
	// Node is the network-internal output name.
	Node string
	// Shape is the activation tensor shape (height, width, channels) for a 224x224 input.
	Shape [3]int
}

// Size returns the flattened activation length.
func (l LayerInfo) Size() int {
	return l.Shape[0] * l.Shape[1] * l.Shape[2]
}

var layerTable = []LayerInfo{
	{ID: LayerMobilenet12d, Architecture: ArchMobilenet, Node: "MobilenetV1/MobilenetV1/Conv2d_12_depthwise/Relu6", Shape: [3]int{7, 7, 512}},
	{ID: LayerGooglenet4d, Architecture: ArchGooglenet, Node: "mixed4d", Shape: [3]int{14, 14, 528}},
	{ID: LayerGooglenet5b, Architecture: ArchGooglenet, Node: "mixed5b", Shape: [3]int{7, 7, 1024}},
}

// AllLayers returns every supported layer in table order.
func AllLayers() []LayerID {
	out := make([]LayerID, len(layerTable))
	for i, l := range layerTable {
		out[i] = l.ID
	}
	return out
}

// LookupLayer returns the table row for id.
func LookupLayer(id LayerID) (LayerInfo, bool) {
	for _, l := range layerTable {
		if l.ID == id {
			return l, true
		}
	}
	return LayerInfo{}, false
}

// ParseLayerID validates s against the layer table.
func ParseLayerID(s string) (LayerID, error) {
	id := LayerID(s)
	if _, ok := LookupLayer(id); !ok {
		return "", fmt.Errorf("%w: unknown model layer %q", ErrInvalidInput, s)
	}
	return id, nil
}

// Valid reports whether id is in the layer table.
func (id LayerID) Valid() bool {
	_, ok := LookupLayer(id)
	return ok
}

// Architecture returns the owning network, or "" for an unknown layer.
func (id LayerID) Architecture() Architecture {
	l, _ := LookupLayer(id)
	return l.Architecture
}

// String implements fmt.Stringer.
func (id LayerID) String() string {
	return string(id)
}
