package activation

import (
	"fmt"
	"path/filepath"

	"github.com/hyperjump/cavstudio/internal/models"
)

// Layout maps image references to files. Built-in images live under
// StaticRoot and user-generated images under UserRoot.
type Layout struct {
	StaticRoot string
	UserRoot   string
}

// ContentDir returns the directory holding ref's files.
func (l Layout) ContentDir(ref models.ImageRef) string {
	if ref.UserGenerated {
		return l.UserRoot
	}
	return l.StaticRoot
}

// Image224Path is the normalized 224x224 PNG of ref.
func (l Layout) Image224Path(ref models.ImageRef) (string, error) {
	return l.file(ref, "1x.224x224.png")
}

// Image1200Path is the 1200x1200 JPEG display copy of ref.
func (l Layout) Image1200Path(ref models.ImageRef) (string, error) {
	return l.file(ref, "1x.1200x1200.jpg")
}

// ActivationPath is the raw activation file of ref at layer.
func (l Layout) ActivationPath(ref models.ImageRef, layer models.LayerID) (string, error) {
	if !layer.Valid() {
		return "", fmt.Errorf("%w: unknown model layer %q", models.ErrInvalidInput, layer)
	}
	return l.file(ref, "1x."+string(layer)+".npy")
}

func (l Layout) file(ref models.ImageRef, suffix string) (string, error) {
	if err := models.ValidateImageID(ref.ID); err != nil {
		return "", err
	}
	return filepath.Join(l.ContentDir(ref), ref.ID+"."+suffix), nil
}
