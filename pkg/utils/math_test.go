package utils

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(r *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	NormalizeL2(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestDotEqualsCosineForUnitVectors(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		a := Normalized(randomVector(r, 64))
		b := Normalized(randomVector(r, 64))
		d, err := Dot(a, b)
		require.NoError(t, err)
		c, err := CosineSimilarity(a, b)
		require.NoError(t, err)
		assert.InDelta(t, c, d, 1e-5)
	}
}

func TestCosineScaleInvariance(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	a := randomVector(r, 128)
	b := randomVector(r, 128)
	base, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	for _, k := range []float32{0.001, 0.5, 3, 1000} {
		scaled := make([]float32, len(a))
		for i := range a {
			scaled[i] = a[i] * k
		}
		got, err := CosineSimilarity(scaled, b)
		require.NoError(t, err)
		assert.InDelta(t, base, got, 1e-5, "k=%v", k)
	}
}

func TestDotLengthMismatch(t *testing.T) {
	_, err := Dot([]float32{1}, []float32{1, 2})
	assert.True(t, errors.Is(err, ErrVectorLengthMismatch))
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, math.Sqrt(14), Norm([]float32{1, 2, 3}), 1e-5)
	assert.Equal(t, float32(0), Norm(nil))
}
