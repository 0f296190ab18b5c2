// Package idxstore implements an open-addressed index store: a
// persistent hash table from byte keys to (valueOffset, valueLength)
// pairs, backed by a single mmapbuf.Buffer.
//
// Grounded on theflywheel-phash's PersistentHash (linear probing over a
// single mmap'd file, resize via a temp file) for the probe/grow shape,
// and on pkg/slotcache/open.go + format.go for the
// validate-then-restore discipline applied when reopening an existing
// file.
package idxstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/aluketa/hedgehog/internal/engerr"
	"github.com/aluketa/hedgehog/internal/khash"
	"github.com/aluketa/hedgehog/internal/mmapbuf"
	"github.com/aluketa/hedgehog/internal/osfile"
)

const (
	headerSize = 4

	slotEmpty     uint32 = 0
	slotTombstone uint32 = 0xFFFFFFFF

	// MinCapacity is the floor every store (and Clear) resets to.
	MinCapacity uint32 = 1024

	// growFactor is the slot-count multiplier used when the load factor
	// rule triggers: grow to 3x capacity.
	growFactor = 3
)

// Entry is one live (key, valueOffset, valueLength) tuple.
type Entry struct {
	Key         []byte
	ValueOffset int64
	ValueLength int32
}

// Store is a single shard's persistent index table.
type Store struct {
	fsys       osfile.FS
	path       string
	persistent bool
	maxRegion  int64

	buf *mmapbuf.Buffer

	initialCapacity uint32
	capacity        uint32
	cursor          int64
	size            int
	tombstones      int
}

// Open opens or creates the index file at path.
//
// If the file's capacity header is nonzero, the store restores from the
// existing content; otherwise it initializes a fresh table of
// max(initialCapacity, MinCapacity) slots.
func Open(fsys osfile.FS, path string, initialCapacity uint32, initialFileSize int64, persistent bool, maxRegionSize int64) (*Store, error) {
	buf, err := mmapbuf.Open(fsys, path, initialFileSize, persistent, maxRegionSize)
	if err != nil {
		return nil, err
	}

	s := &Store{
		fsys:            fsys,
		path:            path,
		persistent:      persistent,
		maxRegion:       maxRegionSize,
		buf:             buf,
		initialCapacity: initialCapacity,
	}

	headerBuf := make([]byte, headerSize)
	if _, err := buf.GetAt(0, headerBuf); err != nil {
		_ = buf.Close()

		return nil, err
	}

	capacityHeader := binary.BigEndian.Uint32(headerBuf)

	if capacityHeader == 0 {
		if err := s.initialize(); err != nil {
			_ = buf.Close()

			return nil, err
		}
	} else {
		if err := s.restore(capacityHeader); err != nil {
			_ = buf.Close()

			return nil, err
		}
	}

	return s, nil
}

func (s *Store) initialize() error {
	capacity := s.initialCapacity
	if capacity < MinCapacity {
		capacity = MinCapacity
	}

	if err := s.ensureCapacityFits(capacity); err != nil {
		return err
	}

	if err := s.writeHeader(capacity); err != nil {
		return err
	}

	s.capacity = capacity
	s.cursor = headerSize + int64(capacity)*4
	s.size = 0
	s.tombstones = 0

	return nil
}

func (s *Store) ensureCapacityFits(capacity uint32) error {
	needed := headerSize + int64(capacity)*4
	if needed <= s.buf.Capacity() {
		return nil
	}

	return s.buf.Grow(needed)
}

func (s *Store) writeHeader(capacity uint32) error {
	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint32(hdr, capacity)

	return s.buf.PutAt(0, hdr)
}

// restore reconstructs the append cursor and live count by scanning the
// slot array: the highest valid (non-empty, non-tombstone) slot value
// locates the last-written key record, whose length tells us where the
// append area currently ends.
func (s *Store) restore(capacity uint32) error {
	s.capacity = capacity

	slotsBuf := make([]byte, int64(capacity)*4)
	if _, err := s.buf.GetAt(headerSize, slotsBuf); err != nil {
		return err
	}

	var maxPos uint32

	count := 0

	for i := uint32(0); i < capacity; i++ {
		v := binary.BigEndian.Uint32(slotsBuf[i*4 : i*4+4])

		switch v {
		case slotEmpty:
			continue
		case slotTombstone:
			s.tombstones++
		default:
			count++

			if v > maxPos {
				maxPos = v
			}
		}
	}

	s.size = count

	if maxPos == 0 {
		s.cursor = headerSize + int64(capacity)*4

		return nil
	}

	lenBuf := make([]byte, 4)
	if _, err := s.buf.GetAt(int64(maxPos), lenBuf); err != nil {
		return err
	}

	recLen := binary.BigEndian.Uint32(lenBuf)
	s.cursor = int64(maxPos) + 4 + int64(recLen)

	return nil
}

func (s *Store) readSlot(idx uint32) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := s.buf.GetAt(headerSize+int64(idx)*4, buf); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(buf), nil
}

func (s *Store) writeSlot(idx uint32, v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)

	return s.buf.PutAt(headerSize+int64(idx)*4, buf)
}

func (s *Store) readRecordAt(pos uint32) ([]byte, int64, int32, error) {
	lenBuf := make([]byte, 4)
	if _, err := s.buf.GetAt(int64(pos), lenBuf); err != nil {
		return nil, 0, 0, err
	}

	recLen := binary.BigEndian.Uint32(lenBuf)

	recBuf := make([]byte, recLen)
	if _, err := s.buf.GetAt(int64(pos)+4, recBuf); err != nil {
		return nil, 0, 0, err
	}

	key, offset, length, ok := decodeKeyRecord(recBuf)
	if !ok {
		return nil, 0, 0, fmt.Errorf("idxstore: corrupt key record at %d: %w", pos, engerr.Serialization)
	}

	return key, offset, length, nil
}

// Get returns the (valueOffset, valueLength) for key, or ok=false if not
// present.
func (s *Store) Get(key []byte) (valueOffset int64, valueLength int32, ok bool, err error) {
	h := khash.Hash(key)
	start := khash.Slot(h, uint64(s.capacity))

	for step := uint64(0); step <= uint64(s.capacity); step++ {
		idx := uint32((start + step) % uint64(s.capacity))

		slotVal, err := s.readSlot(idx)
		if err != nil {
			return 0, 0, false, err
		}

		if slotVal == slotEmpty {
			return 0, 0, false, nil
		}

		if slotVal == slotTombstone {
			continue
		}

		k, off, length, err := s.readRecordAt(slotVal)
		if err != nil {
			return 0, 0, false, err
		}

		if bytes.Equal(k, key) {
			return off, length, true, nil
		}
	}

	return 0, 0, false, fmt.Errorf("idxstore: unable to locate a free index entry: %w", engerr.IndexFull)
}

// Contains reports whether key is present.
func (s *Store) Contains(key []byte) (bool, error) {
	_, _, ok, err := s.Get(key)

	return ok, err
}

// Put inserts or overwrites key's (valueOffset, valueLength).
func (s *Store) Put(key []byte, valueOffset int64, valueLength int32) error {
	if uint64(s.size+s.tombstones) > uint64(s.capacity)/2 {
		if err := s.Grow(uint32(uint64(s.capacity)*growFactor), s.buf.Capacity()*growFactor); err != nil {
			return err
		}
	}

	recBytes := encodeKeyRecord(key, valueOffset, valueLength)
	need := s.cursor + 4 + int64(len(recBytes))

	if need > s.buf.Capacity() {
		newSize := s.buf.Capacity() + (4 + int64(len(recBytes)))
		if tripled := s.buf.Capacity() * growFactor; tripled > newSize {
			newSize = tripled
		}

		if err := s.buf.Grow(newSize); err != nil {
			return err
		}
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(recBytes)))

	writePos := s.cursor
	if err := s.buf.PutAt(writePos, lenBuf); err != nil {
		return err
	}

	if err := s.buf.PutAt(writePos+4, recBytes); err != nil {
		return err
	}

	s.cursor = writePos + 4 + int64(len(recBytes))

	h := khash.Hash(key)
	start := khash.Slot(h, uint64(s.capacity))

	firstTombstone := int64(-1)

	for step := uint64(0); step <= uint64(s.capacity); step++ {
		idx := uint32((start + step) % uint64(s.capacity))

		slotVal, err := s.readSlot(idx)
		if err != nil {
			return err
		}

		switch slotVal {
		case slotEmpty:
			insertIdx := idx
			if firstTombstone >= 0 {
				insertIdx = uint32(firstTombstone)
				s.tombstones--
			}

			if err := s.writeSlot(insertIdx, uint32(writePos)); err != nil {
				return err
			}

			s.size++

			return nil
		case slotTombstone:
			if firstTombstone < 0 {
				firstTombstone = int64(idx)
			}
		default:
			k, _, _, err := s.readRecordAt(slotVal)
			if err != nil {
				return err
			}

			if bytes.Equal(k, key) {
				return s.writeSlot(idx, uint32(writePos))
			}
		}
	}

	return fmt.Errorf("idxstore: unable to locate a free index entry: %w", engerr.IndexFull)
}

// Remove deletes key if present, leaving a tombstone in its slot so that
// keys inserted before it along the same probe chain remain reachable
// instead of leaving a true empty that would terminate the probe early.
func (s *Store) Remove(key []byte) (existed bool, err error) {
	h := khash.Hash(key)
	start := khash.Slot(h, uint64(s.capacity))

	for step := uint64(0); step <= uint64(s.capacity); step++ {
		idx := uint32((start + step) % uint64(s.capacity))

		slotVal, err := s.readSlot(idx)
		if err != nil {
			return false, err
		}

		if slotVal == slotEmpty {
			return false, nil
		}

		if slotVal == slotTombstone {
			continue
		}

		k, _, _, err := s.readRecordAt(slotVal)
		if err != nil {
			return false, err
		}

		if bytes.Equal(k, key) {
			if err := s.writeSlot(idx, slotTombstone); err != nil {
				return false, err
			}

			s.size--
			s.tombstones++

			return true, nil
		}
	}

	return false, nil
}

// Size returns the live entry count.
func (s *Store) Size() int { return s.size }

// Entries returns every live entry, in slot order; there is no
// insertion-order guarantee.
func (s *Store) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, s.size)

	for idx := uint32(0); idx < s.capacity; idx++ {
		slotVal, err := s.readSlot(idx)
		if err != nil {
			return nil, err
		}

		if slotVal == slotEmpty || slotVal == slotTombstone {
			continue
		}

		k, off, length, err := s.readRecordAt(slotVal)
		if err != nil {
			return nil, err
		}

		entries = append(entries, Entry{Key: k, ValueOffset: off, ValueLength: length})
	}

	return entries, nil
}

// Clear resets the table to max(initialCapacity, MinCapacity) slots, all
// empty. The file is not shrunk.
func (s *Store) Clear() error {
	capacity := s.initialCapacity
	if capacity < MinCapacity {
		capacity = MinCapacity
	}

	if err := s.ensureCapacityFits(capacity); err != nil {
		return err
	}

	zeros := make([]byte, int64(capacity)*4)
	if err := s.buf.PutAt(headerSize, zeros); err != nil {
		return err
	}

	if err := s.writeHeader(capacity); err != nil {
		return err
	}

	s.capacity = capacity
	s.cursor = headerSize + int64(capacity)*4
	s.size = 0
	s.tombstones = 0

	return nil
}

// Force flushes the backing mapping to disk.
func (s *Store) Force() error { return s.buf.Force() }

// Close releases the store's mapping (and, for ephemeral stores,
// deletes the backing file).
func (s *Store) Close() error { return s.buf.Close() }

// CloseMapping unmaps without touching the backing file, regardless of
// persistence. Used when the file is about to be replaced out from
// under this mapping (see mmapbuf.Buffer.CloseMapping).
func (s *Store) CloseMapping() error { return s.buf.CloseMapping() }

// Grow rebuilds the table at newCapacity slots and newFileSize bytes,
// reinserting every live entry. A file can't be remapped at a new size
// while still mapped at the old size under the same path, so the rebuild
// goes through two hops: self -> ephemeral temp -> persistent temp,
// which is then renamed over the original path — the same
// copy-via-temp-then-rename shape the map engine's Compact uses.
func (s *Store) Grow(newCapacity uint32, newFileSize int64) error {
	if newCapacity < MinCapacity {
		newCapacity = MinCapacity
	}

	entries, err := s.Entries()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)

	scratchFile, scratchPath, err := s.fsys.CreateTemp(dir, "hedgehog-idx-scratch-*")
	if err != nil {
		return fmt.Errorf("idxstore: grow scratch temp: %w: %w", engerr.IoFailure, err)
	}

	_ = scratchFile.Close()

	scratch, err := Open(s.fsys, scratchPath, newCapacity, newFileSize, false, s.maxRegion)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := scratch.Put(e.Key, e.ValueOffset, e.ValueLength); err != nil {
			_ = scratch.Close()

			return err
		}
	}

	targetFile, targetPath, err := s.fsys.CreateTemp(dir, "hedgehog-idx-target-*")
	if err != nil {
		_ = scratch.Close()

		return fmt.Errorf("idxstore: grow target temp: %w: %w", engerr.IoFailure, err)
	}

	_ = targetFile.Close()

	target, err := Open(s.fsys, targetPath, newCapacity, newFileSize, true, s.maxRegion)
	if err != nil {
		_ = scratch.Close()

		return err
	}

	scratchEntries, err := scratch.Entries()
	if err != nil {
		_ = scratch.Close()
		_ = target.Close()

		return err
	}

	for _, e := range scratchEntries {
		if err := target.Put(e.Key, e.ValueOffset, e.ValueLength); err != nil {
			_ = scratch.Close()
			_ = target.Close()

			return err
		}
	}

	// scratch is ephemeral: Close unmaps and deletes it.
	if err := scratch.Close(); err != nil {
		_ = target.Close()

		return err
	}

	finalCapacity := target.capacity
	finalCursor := target.cursor
	finalSize := target.size

	if err := target.buf.CloseMapping(); err != nil {
		return err
	}

	if err := atomic.ReplaceFile(targetPath, s.path); err != nil {
		return fmt.Errorf("idxstore: grow rename %s: %w: %w", s.path, engerr.IoFailure, err)
	}

	// self's mapping over the old file content is stale; unmap without
	// deleting (the file now holds the new, renamed content).
	if err := s.buf.CloseMapping(); err != nil {
		return err
	}

	newBuf, err := mmapbuf.Open(s.fsys, s.path, newFileSize, s.persistent, s.maxRegion)
	if err != nil {
		return err
	}

	s.buf = newBuf
	s.capacity = finalCapacity
	s.cursor = finalCursor
	s.size = finalSize
	s.tombstones = 0

	return nil
}

// Compact rebuilds the table sized to exactly accommodate the current
// live set: capacity = max(MinCapacity, 2*liveCount), file size = header
// + slots + the live entries' on-disk footprint. Equivalent to Grow but
// sized to fit the live set exactly rather than leaving headroom.
func (s *Store) Compact() error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}

	newCapacity := uint32(len(entries)) * 2
	if newCapacity < MinCapacity {
		newCapacity = MinCapacity
	}

	newFileSize := headerSize + int64(newCapacity)*4

	for _, e := range entries {
		newFileSize += onDiskSize(len(e.Key))
	}

	if newFileSize < mmapbuf.MinMappedSize {
		newFileSize = mmapbuf.MinMappedSize
	}

	return s.Grow(newCapacity, newFileSize)
}
