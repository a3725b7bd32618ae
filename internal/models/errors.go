package models

import "errors"

// Error taxonomy shared by the engine. Callers classify failures with errors.Is.
var (
	// ErrInvalidInput marks malformed images, wrong shapes, unknown layers,
	// unsafe ids and missing CAV stats.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks missing activation files, CAV files and image set manifests.
	ErrNotFound = errors.New("not found")
	// ErrExtractor marks a failed inference call.
	ErrExtractor = errors.New("feature extractor failed")
)
