package localize

import (
	"image"
	"math"
	"sync"

	"github.com/hyperjump/cavstudio/internal/cache"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
)

// DefaultCropCacheSize is the number of crops an Image keeps.
const DefaultCropCacheSize = 128

// Crop is a square region of an Image resampled to picture.Size. Its
// activations are computed at most once per layer.
type Crop struct {
	Center models.Point
	Zoom   float64
	Image  *image.NRGBA

	mu          sync.Mutex
	activations map[models.LayerID][]float32
}

// Dimension is the crop side in unit coordinates.
func (c *Crop) Dimension() float64 {
	return 1 / c.Zoom
}

// Spec returns the crop's normalized rectangle.
func (c *Crop) Spec() models.Rect {
	d := c.Dimension()
	return models.Rect{X: c.Center.X - d/2, Y: c.Center.Y - d/2, Width: d, Height: d}
}

// Pixels returns the resampled crop as extractor input.
func (c *Crop) Pixels() picture.Pixels {
	return picture.FromImage(c.Image)
}

// Activation returns the cached activation at layer.
func (c *Crop) Activation(layer models.LayerID) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.activations[layer]
	return v, ok
}

// setActivation stores v unless an activation for layer is already present.
func (c *Crop) setActivation(layer models.LayerID, v []float32) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.activations[layer]; ok {
		return old
	}
	if c.activations == nil {
		c.activations = make(map[models.LayerID][]float32)
	}
	c.activations[layer] = v
	return v
}

type cropKey struct {
	x, y, zoom float64
}

// Image is a normalized source image with its crop cache.
type Image struct {
	pixels *image.NRGBA
	crops  *cache.LRU[cropKey, *Crop]
}

// NewImage wraps a 224x224 image. cropCacheSize <= 0 uses DefaultCropCacheSize.
func NewImage(img image.Image, cropCacheSize int) (*Image, error) {
	if err := picture.CheckNormalized(img); err != nil {
		return nil, err
	}
	if cropCacheSize <= 0 {
		cropCacheSize = DefaultCropCacheSize
	}
	norm, err := picture.Normalize(img)
	if err != nil {
		return nil, err
	}
	return &Image{pixels: norm, crops: cache.New[cropKey, *Crop](cropCacheSize)}, nil
}

// Width is the image width in pixels.
func (m *Image) Width() int {
	return m.pixels.Bounds().Dx()
}

// Height is the image height in pixels.
func (m *Image) Height() int {
	return m.pixels.Bounds().Dy()
}

// Bounds returns the pixel rectangle of the crop centered at center with
// side 1/zoom. Edges round half to even and are clamped to the image.
func (m *Image) Bounds(center models.Point, zoom float64) image.Rectangle {
	w, h := float64(m.Width()), float64(m.Height())
	sw, sh := w/zoom, h/zoom
	cx, cy := center.X*w, center.Y*h
	r := image.Rect(
		int(math.RoundToEven(cx-sw/2)),
		int(math.RoundToEven(cy-sh/2)),
		int(math.RoundToEven(cx+sw/2)),
		int(math.RoundToEven(cy+sh/2)),
	)
	return r.Intersect(image.Rect(0, 0, m.Width(), m.Height()))
}

// Crop returns the crop at (center, zoom), resampling it on first use.
func (m *Image) Crop(center models.Point, zoom float64) (*Crop, error) {
	if !(zoom >= 1) {
		return nil, errInvalidZoom(zoom)
	}
	key := cropKey{x: center.X, y: center.Y, zoom: zoom}
	return m.crops.GetOrCompute(key, func() (*Crop, error) {
		px, err := picture.CropResize(m.pixels, m.Bounds(center, zoom))
		if err != nil {
			return nil, err
		}
		return &Crop{Center: center, Zoom: zoom, Image: px}, nil
	})
}

// CachedCrops returns the number of crops held by the cache.
func (m *Image) CachedCrops() int {
	return m.crops.Len()
}

// CheckerboardCenters returns the centers of the zoom x zoom grid of
// non-overlapping crops, column by column.
func CheckerboardCenters(zoom int) []models.Point {
	d := 1 / float64(zoom)
	out := make([]models.Point, 0, zoom*zoom)
	for x := 0; x < zoom; x++ {
		for y := 0; y < zoom; y++ {
			out = append(out, models.Point{X: float64(x)*d + d/2, Y: float64(y)*d + d/2})
		}
	}
	return out
}
