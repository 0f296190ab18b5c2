// Package codec defines the external collaborator the map engine uses
// to turn values into bytes and back. It ships three ready-made codecs
// (Bytes, String, Gob); most callers wrap a concrete type with Gob.
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Codec encodes values of type V to bytes and decodes them back.
// Implementations must round-trip: Decode(Encode(v)) == v.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// Bytes is the identity codec for []byte values: Encode and Decode both
// copy, so the engine never aliases a caller's backing array with a
// mapped region.
type Bytes struct{}

// Encode returns a copy of v.
func (Bytes) Encode(v []byte) ([]byte, error) {
	out := make([]byte, len(v))
	copy(out, v)

	return out, nil
}

// Decode returns a copy of data.
func (Bytes) Decode(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

var _ Codec[[]byte] = Bytes{}

// String is the identity codec for string values, used by tests that
// exercise the engine with plain string keys/values.
type String struct{}

// Encode returns v's UTF-8 bytes.
func (String) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

// Decode returns data interpreted as a UTF-8 string.
func (String) Decode(data []byte) (string, error) {
	return string(data), nil
}

var _ Codec[string] = String{}

// Gob is a generic codec built on encoding/gob, for any value type that
// gob can encode (structs, maps, slices of such).
type Gob[V any] struct{}

// Encode gob-encodes v.
func (Gob[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("codec: gob encode: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode gob-decodes data into a V.
func (Gob[V]) Decode(data []byte) (V, error) {
	var v V

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, fmt.Errorf("codec: gob decode: %w", err)
	}

	return v, nil
}
