package hedgehog

import "github.com/aluketa/hedgehog/internal/engerr"

// Sentinel errors for Hedgehog's error taxonomy. Wrapped causes satisfy
// errors.Is against these, mirroring pkg/slotcache/api.go's
// sentinel-error-plus-%w convention.
var (
	// ErrIoFailure wraps any open/map/truncate/flush/delete failure.
	ErrIoFailure = engerr.IoFailure

	// ErrSerialization wraps a Codec encode/decode failure.
	ErrSerialization = engerr.Serialization

	// ErrIndexFull indicates a probe exceeded capacity+1 steps; prevented
	// in practice by the load-factor grow rule.
	ErrIndexFull = engerr.IndexFull

	// ErrMisuse wraps caller errors such as a buffer position beyond
	// capacity.
	ErrMisuse = engerr.Misuse

	// ErrClosed is the sentinel for use of a closed store. Map's methods
	// do not check for a closed Map and never return it: after Close,
	// operations that read or write the unmapped files fail with an
	// ErrMisuse-wrapped error instead.
	ErrClosed = engerr.Closed
)
