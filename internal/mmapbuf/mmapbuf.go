// Package mmapbuf implements a segmented memory-mapped buffer: a single
// logical, growable byte cursor over a file that may exceed one
// mappable region.
//
// Grounded on the mmap/truncate/fsync sequence in
// pkg/slotcache/open.go's mmapAndCreateCache, generalized from "one
// mapping of the whole file" to "N mappings stitched into one logical
// cursor" using golang.org/x/sys/unix.
//
// Buffer is NOT safe for concurrent use; callers (the map engine's
// per-shard lock) provide external synchronization — access is
// single-threaded per buffer instance.
package mmapbuf

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/aluketa/hedgehog/internal/engerr"
	"github.com/aluketa/hedgehog/internal/osfile"
)

// DefaultMaxRegionSize is R_MAX: the platform's maximum mappable region,
// configurable for testing via Options.MaxRegionSize.
const DefaultMaxRegionSize int64 = 1<<31 - 1

// MinMappedSize is the 1 MiB floor on every buffer's mapped size
// the minimum file size for both data and index files.
const MinMappedSize int64 = 1 << 20

// region is one contiguous mmap'd span. Because mmap's offset argument
// must be page-aligned but a logical region's start (i*maxRegionSize)
// need not be, each region maps from the nearest page boundary at or
// before its logical start and then slices forward to the logical
// start. This lets callers configure an arbitrary (even sub-page)
// MaxRegionSize for tests while real mmap calls stay valid.
type region struct {
	mapped []byte // the raw OS mapping, page-aligned start
	buf    []byte // the logical region's bytes, a sub-slice of mapped
}

// Buffer is a byte-addressable, growable cursor over a memory-mapped
// file spanning one or more regions.
type Buffer struct {
	fsys       osfile.FS
	path       string
	persistent bool
	maxRegion  int64

	capacity int64
	position int64
	regions  []region
	closed   bool
}

// Open opens or creates the file at path and maps it.
//
// effectiveSize = max(targetSize, 1 MiB, currentFileSize). If
// maxRegionSize <= 0, DefaultMaxRegionSize is used.
func Open(fsys osfile.FS, path string, targetSize int64, persistent bool, maxRegionSize int64) (*Buffer, error) {
	if maxRegionSize <= 0 {
		maxRegionSize = DefaultMaxRegionSize
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmapbuf: open %s: %w: %w", path, engerr.IoFailure, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("mmapbuf: stat %s: %w: %w", path, engerr.IoFailure, err)
	}

	effectiveSize := targetSize
	if effectiveSize < MinMappedSize {
		effectiveSize = MinMappedSize
	}

	if info.Size() > effectiveSize {
		effectiveSize = info.Size()
	}

	if effectiveSize > info.Size() {
		if err := f.Truncate(effectiveSize); err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("mmapbuf: truncate %s: %w: %w", path, engerr.IoFailure, err)
		}
	}

	regions, err := mapRegions(int(f.Fd()), effectiveSize, maxRegionSize)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("mmapbuf: mmap %s: %w: %w", path, engerr.IoFailure, err)
	}

	// Mappings remain valid once the fd is closed; grow/close reopen by path.
	if err := f.Close(); err != nil {
		unmapAll(regions)

		return nil, fmt.Errorf("mmapbuf: close %s: %w: %w", path, engerr.IoFailure, err)
	}

	return &Buffer{
		fsys:       fsys,
		path:       path,
		persistent: persistent,
		maxRegion:  maxRegionSize,
		capacity:   effectiveSize,
		regions:    regions,
	}, nil
}

func mapRegions(fd int, effectiveSize, maxRegionSize int64) ([]region, error) {
	pageSize := int64(unix.Getpagesize())
	regionCount := ceilDiv(effectiveSize, maxRegionSize)
	regions := make([]region, 0, regionCount)

	for i := int64(0); i < regionCount; i++ {
		start := i * maxRegionSize

		size := maxRegionSize
		if remaining := effectiveSize - start; remaining < size {
			size = remaining
		}

		aligned := start - (start % pageSize)
		mapLen := int(start - aligned + size)

		mapped, err := unix.Mmap(fd, aligned, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unmapAll(regions)

			return nil, err
		}

		regions = append(regions, region{
			mapped: mapped,
			buf:    mapped[start-aligned : start-aligned+size],
		})
	}

	return regions, nil
}

func unmapAll(regions []region) {
	for _, r := range regions {
		_ = unix.Munmap(r.mapped)
	}
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 1
	}

	return (a + b - 1) / b
}

// Position returns the current logical cursor.
func (b *Buffer) Position() int64 { return b.position }

// SetPosition moves the cursor. An out-of-range value is accepted here
// but the next Put/Get will fail.
func (b *Buffer) SetPosition(p int64) { b.position = p }

// Capacity returns the buffer's total mapped size.
func (b *Buffer) Capacity() int64 { return b.capacity }

// Put writes data starting at the cursor, advancing it by len(data).
func (b *Buffer) Put(data []byte) error {
	if err := b.writeAt(b.position, data); err != nil {
		return err
	}

	b.position += int64(len(data))

	return nil
}

// Get reads len(dst) bytes starting at the cursor into dst, advancing
// the cursor by len(dst).
func (b *Buffer) Get(dst []byte) (int, error) {
	n, err := b.readAt(b.position, dst)
	if err != nil {
		return n, err
	}

	b.position += int64(len(dst))

	return n, nil
}

// PutAt writes data at an absolute offset without touching the cursor.
// Used by the index store and by the map engine's Compact.
func (b *Buffer) PutAt(offset int64, data []byte) error {
	return b.writeAt(offset, data)
}

// GetAt reads len(dst) bytes at an absolute offset without touching the
// cursor. The map engine's Get reads values this way, so its reads do
// not disturb the append cursor.
func (b *Buffer) GetAt(offset int64, dst []byte) (int, error) {
	return b.readAt(offset, dst)
}

var errOutOfRange = errors.New("mmapbuf: position out of range")

func (b *Buffer) writeAt(offset int64, data []byte) error {
	if offset < 0 || offset+int64(len(data)) > b.capacity {
		return fmt.Errorf("%w: %w", engerr.Misuse, errOutOfRange)
	}

	remaining := data
	pos := offset

	for len(remaining) > 0 {
		idx := pos / b.maxRegion
		if idx < 0 || int(idx) >= len(b.regions) {
			return fmt.Errorf("%w: %w", engerr.Misuse, errOutOfRange)
		}

		regionOffset := pos % b.maxRegion
		r := b.regions[idx]

		avail := int64(len(r.buf)) - regionOffset
		n := int64(len(remaining))

		if n > avail {
			n = avail
		}

		copy(r.buf[regionOffset:regionOffset+n], remaining[:n])
		remaining = remaining[n:]
		pos += n
	}

	return nil
}

func (b *Buffer) readAt(offset int64, dst []byte) (int, error) {
	if offset < 0 || offset+int64(len(dst)) > b.capacity {
		return 0, fmt.Errorf("%w: %w", engerr.Misuse, errOutOfRange)
	}

	remaining := dst
	pos := offset
	total := 0

	for len(remaining) > 0 {
		idx := pos / b.maxRegion
		if idx < 0 || int(idx) >= len(b.regions) {
			return total, fmt.Errorf("%w: %w", engerr.Misuse, errOutOfRange)
		}

		regionOffset := pos % b.maxRegion
		r := b.regions[idx]

		avail := int64(len(r.buf)) - regionOffset
		n := int64(len(remaining))

		if n > avail {
			n = avail
		}

		copy(remaining[:n], r.buf[regionOffset:regionOffset+n])
		remaining = remaining[n:]
		pos += n
		total += int(n)
	}

	return total, nil
}

// Force flushes every region's mapping to disk.
func (b *Buffer) Force() error {
	var errs []error

	for _, r := range b.regions {
		if err := unix.Msync(r.mapped, unix.MS_SYNC); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("mmapbuf: force %s: %w: %w", b.path, engerr.IoFailure, errors.Join(errs...))
	}

	return nil
}

// Grow remaps the buffer over the same file at a larger size. The
// cursor is left unchanged, so a write position survives Grow; the map
// engine's data-buffer grow relies on this.
func (b *Buffer) Grow(newSize int64) error {
	if newSize <= b.capacity {
		return nil
	}

	f, err := b.fsys.OpenFile(b.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("mmapbuf: reopen %s: %w: %w", b.path, engerr.IoFailure, err)
	}

	if err := f.Truncate(newSize); err != nil {
		_ = f.Close()

		return fmt.Errorf("mmapbuf: grow-truncate %s: %w: %w", b.path, engerr.IoFailure, err)
	}

	newRegions, err := mapRegions(int(f.Fd()), newSize, b.maxRegion)
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("mmapbuf: grow-mmap %s: %w: %w", b.path, engerr.IoFailure, err)
	}

	if err := f.Close(); err != nil {
		unmapAll(newRegions)

		return fmt.Errorf("mmapbuf: grow-close %s: %w: %w", b.path, engerr.IoFailure, err)
	}

	old := b.regions
	b.regions = newRegions
	b.capacity = newSize
	unmapAll(old)

	return nil
}

// Close unmaps every region and, for non-persistent buffers, deletes
// the backing file.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}

	b.closed = true
	unmapAll(b.regions)
	b.regions = nil

	if !b.persistent {
		if err := b.fsys.Remove(b.path); err != nil {
			return fmt.Errorf("mmapbuf: remove %s: %w: %w", b.path, engerr.IoFailure, err)
		}
	}

	return nil
}

// CloseMapping unmaps every region without touching the backing file,
// regardless of the buffer's persistence setting. Used by callers that
// are about to replace or rename the file out from under this mapping
// (index/data-file grow and compact) and need the old mapping gone
// without its usual delete-on-close behavior firing.
func (b *Buffer) CloseMapping() error {
	if b.closed {
		return nil
	}

	b.closed = true
	unmapAll(b.regions)
	b.regions = nil

	return nil
}
