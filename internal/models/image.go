package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ImageRef identifies a normalized image by content hash and provenance.
type ImageRef struct {
	ID            string `json:"id"`
	UserGenerated bool   `json:"user_generated"`
}

// NewImageRef validates id and returns a reference.
func NewImageRef(id string, userGenerated bool) (ImageRef, error) {
	if err := ValidateImageID(id); err != nil {
		return ImageRef{}, err
	}
	return ImageRef{ID: id, UserGenerated: userGenerated}, nil
}

// ValidateImageID rejects ids that could address files outside a content directory.
func ValidateImageID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty image id", ErrInvalidInput)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: image id %q contains a path separator", ErrInvalidInput, id)
	}
	return nil
}

// TrainingImageRef is an ImageRef with a positive sample weight.
type TrainingImageRef struct {
	ImageRef
	Weight float64 `json:"weight"`
}

// UnmarshalJSON defaults a missing weight to 1.
func (t *TrainingImageRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            string   `json:"id"`
		UserGenerated bool     `json:"user_generated"`
		Weight        *float64 `json:"weight"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.ID = raw.ID
	t.UserGenerated = raw.UserGenerated
	t.Weight = 1
	if raw.Weight != nil {
		t.Weight = *raw.Weight
	}
	return nil
}

// Validate checks the id and that the weight is positive.
func (t TrainingImageRef) Validate() error {
	if err := ValidateImageID(t.ID); err != nil {
		return err
	}
	if !(t.Weight > 0) {
		return fmt.Errorf("%w: weight of image %s must be positive, got %v", ErrInvalidInput, t.ID, t.Weight)
	}
	return nil
}

// Refs strips the weights from a list of training refs.
func Refs(in []TrainingImageRef) []ImageRef {
	out := make([]ImageRef, len(in))
	for i, t := range in {
		out[i] = t.ImageRef
	}
	return out
}
