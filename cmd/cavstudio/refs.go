package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/cavstudio/internal/models"
)

const userPrefix = "user:"

// parseImageRef reads "ID" as a built-in image and "user:ID" as a
// user-generated one.
func parseImageRef(s string) (models.ImageRef, error) {
	s = strings.TrimSpace(s)
	user := strings.HasPrefix(s, userPrefix)
	return models.NewImageRef(strings.TrimPrefix(s, userPrefix), user)
}

// parseTrainingRef reads an image ref with an optional "@weight" suffix.
func parseTrainingRef(s string) (models.TrainingImageRef, error) {
	weight := 1.0
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		w, err := strconv.ParseFloat(s[i+1:], 64)
		if err != nil {
			return models.TrainingImageRef{}, fmt.Errorf("%w: bad weight in %q", models.ErrInvalidInput, s)
		}
		weight = w
		s = s[:i]
	}
	ref, err := parseImageRef(s)
	if err != nil {
		return models.TrainingImageRef{}, err
	}
	t := models.TrainingImageRef{ImageRef: ref, Weight: weight}
	return t, t.Validate()
}

func parseTrainingRefs(values []string) ([]models.TrainingImageRef, error) {
	out := make([]models.TrainingImageRef, 0, len(values))
	for _, v := range values {
		t, err := parseTrainingRef(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
