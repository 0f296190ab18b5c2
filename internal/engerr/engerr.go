// Package engerr holds the sentinel errors shared across Hedgehog's
// internal packages, grounded on the sentinel-error-plus-%w-wrapping
// convention in pkg/slotcache/api.go. It exists so internal/mmapbuf,
// internal/idxstore, and the root hedgehog package can all produce (and
// the root package re-export) the same error values without an import
// cycle back through the root package.
package engerr

import "errors"

var (
	// IoFailure wraps any open/map/truncate/flush/delete failure.
	IoFailure = errors.New("hedgehog: io failure")

	// Serialization wraps a Codec encode/decode failure.
	Serialization = errors.New("hedgehog: serialization failure")

	// IndexFull indicates a probe exceeded capacity+1 steps. Prevented in
	// practice by the 50% load-factor grow rule; surfacing it at all means
	// that rule was violated.
	IndexFull = errors.New("hedgehog: index full")

	// Misuse wraps caller errors such as a buffer seek beyond capacity.
	Misuse = errors.New("hedgehog: misuse")

	// Closed is the sentinel for use of a closed store. No package in
	// this module currently returns it.
	Closed = errors.New("hedgehog: closed")
)
