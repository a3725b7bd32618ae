package activation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"

	"github.com/hyperjump/cavstudio/internal/models"
)

// ReadVector loads a one-dimensional float array from an .npy file.
// float64 files are narrowed to float32.
func ReadVector(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: activation file %s", models.ErrNotFound, filepath.Base(path))
		}
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header of %s: %w", path, err)
	}
	switch r.Header.Descr.Type {
	case "<f4", "f4", "float32":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return v, nil
	case "<f8", "f8", "float64":
		var v []float64
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported activation dtype %q in %s", r.Header.Descr.Type, path)
	}
}

// WriteVector stores v as a float32 .npy file. The file is written to a
// temporary name and renamed so readers never see a partial file.
func WriteVector(path string, v []float32) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create content directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".activation-*.npy")
	if err != nil {
		return err
	}
	if err := npyio.Write(tmp, v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
