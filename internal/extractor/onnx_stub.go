//go:build !cgo
// +build !cgo

package extractor

import (
	"context"
	"errors"

	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
)

// ONNXExtractor stub type when built without CGO (see onnx.go for real implementation).
type ONNXExtractor struct{}

// NewONNXExtractor returns an error when built without CGO (ONNX not available).
func NewONNXExtractor(_ ONNXOptions) (*ONNXExtractor, error) {
	return nil, errors.New("ONNX extractor requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// Extract always fails.
func (e *ONNXExtractor) Extract(_ context.Context, _ []models.LayerID, _ []picture.Pixels) ([]Activations, error) {
	return nil, models.ErrExtractor
}

// Close is a no-op.
func (e *ONNXExtractor) Close() error {
	return nil
}
