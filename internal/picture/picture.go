// Package picture decodes, normalizes and resamples images for the feature
// extractor. Normalized images are 224x224 opaque RGB.
package picture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"io/fs"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/webp"

	"github.com/hyperjump/cavstudio/internal/models"
)

// Size is the side length of a normalized image.
const Size = 224

// Decode reads an image in any registered format and applies its EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode image: %v", models.ErrInvalidInput, err)
	}
	return img, nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data))
}

// Open decodes the image stored at path.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: image file %s", models.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: cannot decode %s: %v", models.ErrInvalidInput, path, err)
	}
	return img, nil
}

// Normalize scales img so its shorter side is Size and crops the center
// square, in one resampling pass. A 224x224 input is only converted to RGB.
func Normalize(img image.Image) (*image.NRGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrInvalidInput)
	}
	if w == Size && h == Size {
		out := imaging.Clone(img)
		makeOpaque(out)
		return out, nil
	}

	scale := float64(Size) / math.Min(float64(w), float64(h))
	tx := float64(w)/2*scale - Size/2
	ty := float64(h)/2*scale - Size/2
	// src -> dst: dst = scale*(src - min) - t
	s2d := f64.Aff3{
		scale, 0, -scale*float64(b.Min.X) - tx,
		0, scale, -scale*float64(b.Min.Y) - ty,
	}
	dst := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	// Kernel sampling clamps to the source rectangle, so border pixels extend the edge.
	draw.CatmullRom.Transform(dst, s2d, img, b, draw.Src, nil)
	makeOpaque(dst)
	return dst, nil
}

// CheckNormalized fails unless img is exactly Size x Size.
func CheckNormalized(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != Size || b.Dy() != Size {
		return fmt.Errorf("%w: expected a %dx%d image, got %dx%d", models.ErrInvalidInput, Size, Size, b.Dx(), b.Dy())
	}
	return nil
}

// CropResize cuts the pixel rectangle r out of src and resamples it to
// Size x Size with a bicubic filter.
func CropResize(src image.Image, r image.Rectangle) (*image.NRGBA, error) {
	r = r.Add(src.Bounds().Min)
	if r.Empty() || !r.In(src.Bounds()) {
		return nil, fmt.Errorf("%w: crop %v outside image %v", models.ErrInvalidInput, r, src.Bounds())
	}
	cropped := imaging.Crop(src, r)
	return imaging.Resize(cropped, Size, Size, imaging.CatmullRom), nil
}

// Fill produces the side x side center fill used for the large display copy.
func Fill(img image.Image, side int) *image.NRGBA {
	return imaging.Fill(img, side, side, imaging.Center, imaging.Lanczos)
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// EncodeJPEG writes img as JPEG at the given quality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// RGBBytes returns the row-major RGB bytes of img; alpha is dropped.
func RGBBytes(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	if n, ok := img.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := n.Pix[n.PixOffset(b.Min.X, y):n.PixOffset(b.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				out = append(out, row[i], row[i+1], row[i+2])
			}
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out = append(out, c.R, c.G, c.B)
		}
	}
	return out
}

func makeOpaque(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
