package picture

import (
	"fmt"
	"image"

	"github.com/hyperjump/cavstudio/internal/models"
)

// Pixels is a row-major height x width x channels buffer. Exactly one of U8
// (values 0-255) or F32 (values 0-1) is set.
type Pixels struct {
	Height   int
	Width    int
	Channels int
	U8       []uint8
	F32      []float32
}

// FromImage returns the uint8 RGB pixels of img.
func FromImage(img image.Image) Pixels {
	b := img.Bounds()
	return Pixels{Height: b.Dy(), Width: b.Dx(), Channels: 3, U8: RGBBytes(img)}
}

// Validate checks that p is a Size x Size x 3 buffer with exactly one backing slice.
func (p Pixels) Validate() error {
	if p.Height != Size || p.Width != Size || p.Channels != 3 {
		return fmt.Errorf("%w: pixels have shape (%d, %d, %d), expected (%d, %d, 3)",
			models.ErrInvalidInput, p.Height, p.Width, p.Channels, Size, Size)
	}
	n := Size * Size * 3
	switch {
	case p.U8 != nil && p.F32 != nil:
		return fmt.Errorf("%w: pixels carry both uint8 and float data", models.ErrInvalidInput)
	case p.U8 != nil && len(p.U8) == n, p.F32 != nil && len(p.F32) == n:
		return nil
	default:
		return fmt.Errorf("%w: pixel buffer length does not match shape", models.ErrInvalidInput)
	}
}

// Rescale writes the pixels into dst mapped linearly from [0,1] to [lo,hi].
func (p Pixels) Rescale(dst []float32, lo, hi float32) {
	span := hi - lo
	if p.U8 != nil {
		for i, v := range p.U8 {
			dst[i] = float32(v)/255*span + lo
		}
		return
	}
	for i, v := range p.F32 {
		dst[i] = v*span + lo
	}
}
