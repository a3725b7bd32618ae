package extractor

import "github.com/hyperjump/cavstudio/internal/models"

// NetworkConfig locates one network's model file and names its tensors.
type NetworkConfig struct {
	ModelPath string
	InputName string
	// OutputNames overrides the graph output name per layer; unset layers use the layer table node.
	OutputNames map[models.LayerID]string
}

// ONNXOptions configures NewONNXExtractor.
type ONNXOptions struct {
	// RuntimeLibrary is the onnxruntime shared library path; empty uses the default search.
	RuntimeLibrary string
	Networks       map[models.Architecture]NetworkConfig
}
