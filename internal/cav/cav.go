// Package cav defines the Concept Activation Vector entity and its binary
// artifact format.
package cav

import (
	"math"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyperjump/cavstudio/internal/models"
)

// CAV is a unit-length direction in the activation space of one layer.
type CAV struct {
	ID     uuid.UUID
	Vector []float32
	Layer  models.LayerID
	// Stats describe the scores of a reference image set; nil until a scoring pass attaches them.
	Stats    *Stats
	Metadata map[string]interface{}
	// Extra holds encoded top-level fields this version does not understand.
	// They are written back unchanged on save.
	Extra map[string]msgpack.RawMessage

	// Encoded stats and metadata as loaded, with the values they decoded
	// to. Encode writes the original bytes while the values are unchanged.
	statsRaw    msgpack.RawMessage
	statsLoaded *Stats
	metaRaw     msgpack.RawMessage
}

// New returns a CAV with a fresh id and no stats.
func New(vector []float32, layer models.LayerID) *CAV {
	return &CAV{ID: uuid.New(), Vector: vector, Layer: layer}
}

const summaryAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// DefaultSummaryLength is the fingerprint length used when none is given.
const DefaultSummaryLength = 20

// SummaryString maps the first maxLength components of v to characters,
// index int(|x|*500) clamped to the alphabet. The index truncates rather
// than rounds so fingerprints match those of existing artifacts. It is a
// visual fingerprint only; collisions are expected.
func SummaryString(v []float32, maxLength int) string {
	n := len(v)
	if maxLength < n {
		n = maxLength
	}
	if n <= 0 {
		return ""
	}
	out := make([]byte, n)
	last := len(summaryAlphabet) - 1
	for i := 0; i < n; i++ {
		x := math.Abs(float64(v[i])) * 500
		idx := 0
		switch {
		case math.IsNaN(x):
		case x >= float64(last):
			idx = last
		default:
			idx = int(x)
		}
		out[i] = summaryAlphabet[idx]
	}
	return string(out)
}

// Summary is SummaryString of the CAV's vector.
func (c *CAV) Summary(maxLength int) string {
	return SummaryString(c.Vector, maxLength)
}
