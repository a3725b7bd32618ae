package cav

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hyperjump/cavstudio/internal/models"
)

// Repository stores CAV artifacts as {dir}/{id}.cav.
type Repository struct {
	dir string
}

// NewRepository returns a repository rooted at dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Path returns the artifact path for id. Only canonical uuids are accepted.
func (r *Repository) Path(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: bad CAV id %q", models.ErrInvalidInput, id)
	}
	return filepath.Join(r.dir, u.String()+".cav"), nil
}

// Save writes c, replacing any artifact with the same id.
func (r *Repository) Save(c *CAV) error {
	path, err := r.Path(c.ID.String())
	if err != nil {
		return err
	}
	return SaveFile(path, c)
}

// Load reads the artifact with the given id.
func (r *Repository) Load(id string) (*CAV, error) {
	path, err := r.Path(id)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// SaveFile writes c to path through a temporary file.
func SaveFile(path string, c *CAV) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create CAV directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cav-*")
	if err != nil {
		return err
	}
	if err := Encode(tmp, c); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode CAV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile reads a CAV artifact from path.
func LoadFile(path string) (*CAV, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: CAV file %s", models.ErrNotFound, filepath.Base(path))
		}
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
