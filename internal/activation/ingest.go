package activation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/hyperjump/cavstudio/internal/imageid"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
)

const (
	largeSide    = 1200
	largeQuality = 90
)

// Ingest stores an image and its activations and returns its reference.
// data224 may be any decodable image; it is normalized to 224x224 before
// hashing. data1200 is stored verbatim as the display copy; when empty, a
// 1200x1200 center fill of data224 is stored instead. Existing files are
// kept, and ingest of one id is serialized across processes by a file lock.
func (s *Store) Ingest(ctx context.Context, data224, data1200 []byte, userGenerated bool) (models.ImageRef, error) {
	src, err := picture.DecodeBytes(data224)
	if err != nil {
		return models.ImageRef{}, err
	}
	norm, err := picture.Normalize(src)
	if err != nil {
		return models.ImageRef{}, err
	}
	ref := models.ImageRef{ID: imageid.Of(norm), UserGenerated: userGenerated}

	dir := s.layout.ContentDir(ref)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.ImageRef{}, fmt.Errorf("failed to create content directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, ref.ID+".lock"))
	if err := lock.Lock(); err != nil {
		return models.ImageRef{}, fmt.Errorf("failed to lock %s: %w", ref.ID, err)
	}
	defer func() { _ = lock.Unlock() }()

	p224, _ := s.layout.Image224Path(ref)
	if err := writeIfAbsent(p224, func() ([]byte, error) {
		var buf bytes.Buffer
		err := picture.EncodePNG(&buf, norm)
		return buf.Bytes(), err
	}); err != nil {
		return models.ImageRef{}, err
	}

	p1200, _ := s.layout.Image1200Path(ref)
	if err := writeIfAbsent(p1200, func() ([]byte, error) {
		if len(data1200) > 0 {
			return data1200, nil
		}
		return encodeLarge(src)
	}); err != nil {
		return models.ImageRef{}, err
	}

	if err := s.computeMissing(ctx, ref, picture.FromImage(norm)); err != nil {
		return models.ImageRef{}, err
	}
	s.logger.Debug("ingested image", zap.String("id", ref.ID), zap.Bool("user_generated", userGenerated))
	return ref, nil
}

// IngestFile ingests the image at path, deriving the display copy from it.
func (s *Store) IngestFile(ctx context.Context, path string, userGenerated bool) (models.ImageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ImageRef{}, err
	}
	return s.Ingest(ctx, data, nil, userGenerated)
}

func encodeLarge(src image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := picture.EncodeJPEG(&buf, picture.Fill(src, largeSide), largeQuality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeIfAbsent(path string, data func() ([]byte, error)) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	b, err := data()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ingest-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
