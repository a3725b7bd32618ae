// Package imageid derives the content identifier of a normalized image.
package imageid

import (
	"crypto/md5"
	"encoding/hex"
	"image"

	"github.com/hyperjump/cavstudio/internal/picture"
)

// FromRGB returns the hex md5 of row-major RGB bytes.
// Identical pixel content always yields the same id.
func FromRGB(rgb []byte) string {
	sum := md5.Sum(rgb)
	return hex.EncodeToString(sum[:])
}

// Of hashes the RGB pixels of img.
func Of(img image.Image) string {
	return FromRGB(picture.RGBBytes(img))
}
