package cav

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/hyperjump/cavstudio/internal/models"
)

// Artifact keys.
const (
	keyVector   = "vector"
	keyID       = "id"
	keyLayer    = "model_layer"
	keyStats    = "stats"
	keyMetadata = "metadata"
)

// Encode writes c as a msgpack map. The vector and new stats are written
// as single-precision floats. Extra fields, and stats or metadata that are
// unchanged since Decode, are copied through byte for byte.
func Encode(w io.Writer, c *CAV) error {
	enc := msgpack.NewEncoder(w)

	keepStats := c.statsUnchanged()
	keepMeta := c.metadataUnchanged()
	n := 3 + len(c.Extra)
	if c.Stats != nil || keepStats {
		n++
	}
	if c.Metadata != nil || keepMeta {
		n++
	}
	if err := enc.EncodeMapLen(n); err != nil {
		return err
	}

	if err := enc.EncodeString(keyVector); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(c.Vector)); err != nil {
		return err
	}
	for _, x := range c.Vector {
		if err := enc.EncodeFloat32(x); err != nil {
			return err
		}
	}
	if err := encodeStringPair(enc, keyID, c.ID.String()); err != nil {
		return err
	}
	if err := encodeStringPair(enc, keyLayer, string(c.Layer)); err != nil {
		return err
	}
	switch {
	case keepStats:
		if err := encodeRawPair(enc, keyStats, c.statsRaw); err != nil {
			return err
		}
	case c.Stats != nil:
		if err := enc.EncodeString(keyStats); err != nil {
			return err
		}
		if err := encodeStats(enc, c.Stats); err != nil {
			return err
		}
	}
	switch {
	case keepMeta:
		if err := encodeRawPair(enc, keyMetadata, c.metaRaw); err != nil {
			return err
		}
	case c.Metadata != nil:
		if err := enc.EncodeString(keyMetadata); err != nil {
			return err
		}
		if err := enc.Encode(c.Metadata); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(c.Extra[k]); err != nil {
			return err
		}
	}
	return nil
}

// statsUnchanged reports whether Stats still holds what Decode read.
func (c *CAV) statsUnchanged() bool {
	if c.statsRaw == nil {
		return false
	}
	if c.Stats == nil || c.statsLoaded == nil {
		return c.Stats == nil && c.statsLoaded == nil
	}
	return *c.Stats == *c.statsLoaded
}

// metadataUnchanged reports whether Metadata still decodes from the
// loaded bytes.
func (c *CAV) metadataUnchanged() bool {
	if c.metaRaw == nil {
		return false
	}
	var loaded map[string]interface{}
	if err := msgpack.Unmarshal(c.metaRaw, &loaded); err != nil {
		return false
	}
	if loaded == nil || c.Metadata == nil {
		return loaded == nil && c.Metadata == nil
	}
	return reflect.DeepEqual(loaded, c.Metadata)
}

func encodeRawPair(enc *msgpack.Encoder, key string, raw msgpack.RawMessage) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.Encode(raw)
}

func encodeStringPair(enc *msgpack.Encoder, key, value string) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeString(value)
}

func encodeStats(enc *msgpack.Encoder, s *Stats) error {
	fields := []struct {
		key   string
		value float64
	}{
		{"mean", s.Mean},
		{"stddev", s.Stddev},
		{"max", s.Max},
		{"min", s.Min},
		{"top_5_mean", s.Top5Mean},
	}
	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return err
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return err
		}
		if err := enc.EncodeFloat32(float32(f.value)); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a CAV artifact. Unrecognized keys are kept in Extra.
func Decode(r io.Reader) (*CAV, error) {
	dec := msgpack.NewDecoder(r)
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, malformed("top level is not a map: %v", err)
	}
	c := &CAV{}
	var haveVector, haveID, haveLayer bool
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, malformed("bad key: %v", err)
		}
		switch key {
		case keyVector:
			if c.Vector, err = decodeVector(dec); err != nil {
				return nil, err
			}
			haveVector = true
		case keyID:
			s, err := dec.DecodeString()
			if err != nil {
				return nil, malformed("bad id: %v", err)
			}
			if c.ID, err = uuid.Parse(s); err != nil {
				return nil, malformed("bad id %q: %v", s, err)
			}
			haveID = true
		case keyLayer:
			s, err := dec.DecodeString()
			if err != nil {
				return nil, malformed("bad model_layer: %v", err)
			}
			if c.Layer, err = models.ParseLayerID(s); err != nil {
				return nil, err
			}
			haveLayer = true
		case keyStats:
			var raw msgpack.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, malformed("bad stats: %v", err)
			}
			if len(raw) == 0 {
				raw = msgpack.RawMessage{msgpcode.Nil}
			}
			if c.Stats, err = decodeStats(msgpack.NewDecoder(bytes.NewReader(raw))); err != nil {
				return nil, err
			}
			c.statsRaw = raw
			if c.Stats != nil {
				loaded := *c.Stats
				c.statsLoaded = &loaded
			}
		case keyMetadata:
			var raw msgpack.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, malformed("bad metadata: %v", err)
			}
			if len(raw) == 0 {
				raw = msgpack.RawMessage{msgpcode.Nil}
			}
			var m map[string]interface{}
			if err := msgpack.Unmarshal(raw, &m); err != nil {
				return nil, malformed("bad metadata: %v", err)
			}
			c.Metadata = m
			c.metaRaw = raw
		default:
			var raw msgpack.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, malformed("bad value for %q: %v", key, err)
			}
			if c.Extra == nil {
				c.Extra = make(map[string]msgpack.RawMessage)
			}
			c.Extra[key] = raw
		}
	}
	if !haveVector || !haveID || !haveLayer {
		return nil, malformed("missing one of vector, id, model_layer")
	}
	return c, nil
}

func decodeVector(dec *msgpack.Decoder) ([]float32, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil || n < 0 {
		return nil, malformed("vector is not an array")
	}
	v := make([]float32, n)
	for i := range v {
		x, err := dec.DecodeFloat64()
		if err != nil {
			return nil, malformed("bad vector component %d: %v", i, err)
		}
		v[i] = float32(x)
	}
	return v, nil
}

func decodeStats(dec *msgpack.Decoder) (*Stats, error) {
	if isNil, err := skipNil(dec); err != nil || isNil {
		if err != nil {
			return nil, malformed("bad stats: %v", err)
		}
		return nil, nil
	}
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, malformed("stats is not a map: %v", err)
	}
	s := &Stats{}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, malformed("bad stats key: %v", err)
		}
		var dst *float64
		switch key {
		case "mean":
			dst = &s.Mean
		case "stddev":
			dst = &s.Stddev
		case "max":
			dst = &s.Max
		case "min":
			dst = &s.Min
		case "top_5_mean":
			dst = &s.Top5Mean
		default:
			if err := dec.Skip(); err != nil {
				return nil, malformed("bad stats value: %v", err)
			}
			continue
		}
		if *dst, err = dec.DecodeFloat64(); err != nil {
			return nil, malformed("bad stats %s: %v", key, err)
		}
	}
	return s, nil
}

func skipNil(dec *msgpack.Decoder) (bool, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return false, err
	}
	if code != msgpcode.Nil {
		return false, nil
	}
	return true, dec.DecodeNil()
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: malformed CAV file: %s", models.ErrInvalidInput, fmt.Sprintf(format, args...))
}
