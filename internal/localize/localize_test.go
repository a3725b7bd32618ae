package localize

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/picture"
	"github.com/hyperjump/cavstudio/internal/workerpool"
)

// splitImage is red on the left half and blue on the right.
func splitImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, picture.Size, picture.Size))
	for y := 0; y < picture.Size; y++ {
		for x := 0; x < picture.Size; x++ {
			c := color.NRGBA{R: 255, A: 255}
			if x >= picture.Size/2 {
				c = color.NRGBA{B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func redCAV(withStats bool) *cav.CAV {
	v := make([]float32, extractor.MockLayerSize(models.LayerMobilenet12d))
	for i := 0; i < len(v); i += 3 {
		v[i] = 0.5
	}
	c := cav.New(v, models.LayerMobilenet12d)
	if withStats {
		c.Stats = &cav.Stats{Mean: 0.3, Top5Mean: 0.9}
	}
	return c
}

func newLocalizer(t *testing.T) (*Localizer, *extractor.MockExtractor) {
	t.Helper()
	pool, err := workerpool.New(4)
	require.NoError(t, err)
	ext := extractor.NewMockExtractor()
	return New(ext, pool), ext
}

func TestCheckerboardCoversImageOnce(t *testing.T) {
	img, err := NewImage(splitImage(), 0)
	require.NoError(t, err)
	for zoom := 3; zoom <= 6; zoom++ {
		counts := make([]int, picture.Size*picture.Size)
		centers := CheckerboardCenters(zoom)
		require.Len(t, centers, zoom*zoom)
		for _, c := range centers {
			r := img.Bounds(c, float64(zoom))
			for y := r.Min.Y; y < r.Max.Y; y++ {
				for x := r.Min.X; x < r.Max.X; x++ {
					counts[y*picture.Size+x]++
				}
			}
		}
		for i, n := range counts {
			if n != 1 {
				t.Fatalf("zoom %d: pixel %d covered %d times", zoom, i, n)
			}
		}
	}
}

func TestNewImageRejectsWrongSize(t *testing.T) {
	_, err := NewImage(image.NewNRGBA(image.Rect(0, 0, 100, 224)), 0)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestCropSpec(t *testing.T) {
	c := &Crop{Center: models.Point{X: 0.25, Y: 0.75}, Zoom: 2}
	assert.Equal(t, models.Rect{X: 0, Y: 0.5, Width: 0.5, Height: 0.5}, c.Spec())

	img, err := NewImage(splitImage(), 0)
	require.NoError(t, err)
	_, err = img.Crop(models.Point{X: 0.5, Y: 0.5}, 0.5)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestColorize(t *testing.T) {
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	assert.Equal(t, white, Colorize(1.5))
	assert.Equal(t, white, Colorize(40))

	low := Colorize(-3)
	assert.Equal(t, low, Colorize(0))
	assert.Equal(t, uint8(0), low.R)
	assert.InDelta(t, 3, low.B, 1)

	top := Colorize(1)
	assert.InDelta(t, 0xFB, top.R, 1)
	assert.InDelta(t, 0xFC, top.G, 1)
	assert.InDelta(t, 0xBF, top.B, 1)

	mid := Colorize(1.25)
	assert.InDelta(t, (0xFB+0xFF)/2, mid.R, 1)
	assert.InDelta(t, (0xBF+0xFF)/2, mid.B, 1)
}

func TestHeatmapNeedsUsableStats(t *testing.T) {
	z, ext := newLocalizer(t)
	img, err := NewImage(splitImage(), 0)
	require.NoError(t, err)

	_, err = z.Heatmap(context.Background(), img, redCAV(false))
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	c := redCAV(true)
	c.Stats.Top5Mean = c.Stats.Mean
	_, err = z.Heatmap(context.Background(), img, c)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
	assert.Equal(t, int64(0), ext.Images())
}

func TestHeatmapFollowsConcept(t *testing.T) {
	z, ext := newLocalizer(t)
	ctx := context.Background()
	img, err := NewImage(splitImage(), 0)
	require.NoError(t, err)
	c := redCAV(true)

	field, err := z.HeatmapField(ctx, img, c)
	require.NoError(t, err)
	require.Len(t, field, picture.Size*picture.Size)
	row := picture.Size / 2
	left := field[row*picture.Size+10]
	right := field[row*picture.Size+picture.Size-10]
	assert.Greater(t, left, right)
	assert.Greater(t, left, float32(0))

	crops := 0
	for _, zoom := range HeatmapZooms {
		crops += zoom * zoom
	}
	assert.Equal(t, int64(crops), ext.Images())
	assert.Equal(t, crops, img.CachedCrops())

	heat, err := z.Heatmap(ctx, img, c)
	require.NoError(t, err)
	assert.Equal(t, picture.Size, heat.Bounds().Dx())
	assert.Equal(t, int64(crops), ext.Images(), "crops re-extracted")
	assert.Equal(t, Colorize(float64(left)), heat.NRGBAAt(10, row))
}

func TestRankedCrops(t *testing.T) {
	z, ext := newLocalizer(t)
	ctx := context.Background()
	img, err := NewImage(splitImage(), 0)
	require.NoError(t, err)
	c := redCAV(false)

	ranked, err := z.RankedCrops(ctx, img, c)
	require.NoError(t, err)
	require.Len(t, ranked, len(candidateCrops))
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
	top, err := z.TopCrop(ctx, img, c)
	require.NoError(t, err)
	assert.Equal(t, ranked[0].Crop, top.Crop)
	assert.Equal(t, models.Point{X: 0.25, Y: 0.25}, top.Crop.Center)
	assert.Equal(t, models.Rect{X: 0, Y: 0, Width: 0.5, Height: 0.5}, top.Crop.Spec())
	assert.Equal(t, int64(len(candidateCrops)), ext.Images())
}

func TestRankedCropsTiesKeepCandidateOrder(t *testing.T) {
	z, _ := newLocalizer(t)
	solid := image.NewNRGBA(image.Rect(0, 0, picture.Size, picture.Size))
	for i := range solid.Pix {
		solid.Pix[i] = 200
	}
	img, err := NewImage(solid, 0)
	require.NoError(t, err)
	top, err := z.TopCrop(context.Background(), img, redCAV(false))
	require.NoError(t, err)
	assert.Equal(t, models.Rect{X: 0, Y: 0, Width: 1, Height: 1}, top.Crop.Spec())
}

func TestOpenCachesImages(t *testing.T) {
	z, ext := newLocalizer(t)
	path := filepath.Join(t.TempDir(), "x.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, picture.EncodePNG(f, splitImage()))
	require.NoError(t, f.Close())

	a, err := z.Open(path)
	require.NoError(t, err)
	_, err = z.RankedCrops(context.Background(), a, redCAV(false))
	require.NoError(t, err)
	b, err := z.Open(path)
	require.NoError(t, err)
	assert.Same(t, a, b)
	_, err = z.Inspect(context.Background(), b, redCAV(true))
	require.NoError(t, err)
	assert.Equal(t, int64(len(candidateCrops)+86), ext.Images())

	_, err = z.Open(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
