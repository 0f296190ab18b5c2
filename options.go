package hedgehog

import (
	"fmt"

	"github.com/aluketa/hedgehog/codec"
	"github.com/aluketa/hedgehog/internal/mmapbuf"
	"github.com/aluketa/hedgehog/internal/osfile"
)

// Options configures construction of a Map, grounded on
// pkg/slotcache.Options / open.go's style of explicit range validation
// before any I/O happens.
type Options[K any, V any] struct {
	// DataPath is the directory hosting persistent files. Ignored when
	// IsPersistent is false.
	DataPath string

	// Name is the base filename component for persistent files.
	Name string

	// IsPersistent selects deterministic on-disk filenames that survive
	// Close, versus unique temp files deleted on Close.
	IsPersistent bool

	// ConcurrencyFactor is the number of shards, N >= 1.
	ConcurrencyFactor int

	// InitialFileSize is a lower bound on each buffer's initial mapped
	// size.
	InitialFileSize int64

	// MaxRegionSize overrides the segmented buffer's per-region cap.
	// Zero selects mmapbuf.DefaultMaxRegionSize.
	MaxRegionSize int64

	// KeyCodec serializes/deserializes keys to/from bytes.
	KeyCodec codec.Codec[K]

	// ValueCodec serializes/deserializes values to/from bytes.
	ValueCodec codec.Codec[V]

	// fsys is overridable only by tests; production callers always get
	// osfile.NewReal().
	fsys osfile.FS
}

func (o *Options[K, V]) setDefaults() {
	if o.ConcurrencyFactor < 1 {
		o.ConcurrencyFactor = 1
	}

	if o.MaxRegionSize <= 0 {
		o.MaxRegionSize = mmapbuf.DefaultMaxRegionSize
	}

	if o.fsys == nil {
		o.fsys = osfile.NewReal()
	}
}

func (o *Options[K, V]) validate() error {
	if o.KeyCodec == nil {
		return fmt.Errorf("hedgehog: Options.KeyCodec is required: %w", ErrMisuse)
	}

	if o.ValueCodec == nil {
		return fmt.Errorf("hedgehog: Options.ValueCodec is required: %w", ErrMisuse)
	}

	if o.IsPersistent && o.Name == "" {
		return fmt.Errorf("hedgehog: Options.Name is required for a persistent store: %w", ErrMisuse)
	}

	if o.ConcurrencyFactor < 1 {
		return fmt.Errorf("hedgehog: Options.ConcurrencyFactor must be >= 1: %w", ErrMisuse)
	}

	return nil
}
