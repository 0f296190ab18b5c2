package codec

import (
	"bytes"
	"testing"
)

func TestBytesRoundTrip(t *testing.T) {
	var c Bytes

	want := []byte("hello")

	encoded, err := c.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !bytes.Equal(decoded, want) {
		t.Fatalf("got %q, want %q", decoded, want)
	}
}

func TestBytesEncodeDoesNotAliasInput(t *testing.T) {
	var c Bytes

	input := []byte("mutable")

	encoded, err := c.Encode(input)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	input[0] = 'X'

	if encoded[0] == 'X' {
		t.Fatalf("Encode aliased caller's backing array")
	}
}

func TestStringRoundTrip(t *testing.T) {
	var c String

	want := "hedgehog"

	encoded, err := c.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

type point struct {
	X, Y int
}

func TestGobRoundTrip(t *testing.T) {
	var c Gob[point]

	want := point{X: 3, Y: 4}

	encoded, err := c.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
