// Package utils holds small helpers shared across packages: logger
// construction and float32 vector math.
package utils

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"
)

// ErrVectorLengthMismatch is returned when two vectors of different length are combined.
var ErrVectorLengthMismatch = errors.New("vector length mismatch")

func vec(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}

// Dot returns the dot product of a and b.
func Dot(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrVectorLengthMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return blas32.Dot(vec(a), vec(b)), nil
}

// Norm returns the euclidean length of x.
func Norm(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	return blas32.Nrm2(vec(x))
}

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	n := Norm(x)
	if n == 0 {
		return
	}
	blas32.Scal(1/n, vec(x))
}

// Normalized returns a unit-length copy of x.
func Normalized(x []float32) []float32 {
	out := make([]float32, len(x))
	copy(out, x)
	NormalizeL2(out)
	return out
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either vector has zero length.
func CosineSimilarity(a, b []float32) (float32, error) {
	d, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return d / (na * nb), nil
}

// ToFloat64 widens x.
func ToFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

// ToFloat32 narrows x.
func ToFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}
