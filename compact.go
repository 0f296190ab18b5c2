package hedgehog

import (
	"fmt"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/aluketa/hedgehog/internal/idxstore"
	"github.com/aluketa/hedgehog/internal/mmapbuf"
)

// Compact rewrites every shard's data and index files to hold exactly
// the live entries, reclaiming space from overwritten/removed values.
// It is a global operation: every shard lock is held for its duration.
func (m *Map[K, V]) Compact() error {
	m.lockAll()
	defer m.unlockAll()

	for _, sh := range m.shards {
		if err := compactShard(sh); err != nil {
			return err
		}
	}

	return nil
}

// compactShard rebuilds sh's data file by re-appending every live value
// contiguously into a fresh temp file (discarding orphaned blobs from
// overwrites/removes), rebuilds the index over the new offsets, then
// atomically swaps both files into place via rename — the same
// copy-via-temp-then-rename shape idxstore.Grow uses, since the target
// path is the same file currently backing the live mapping.
func compactShard(sh *shard) error {
	entries, err := sh.idx.Entries()
	if err != nil {
		return err
	}

	var liveSize int64
	for _, e := range entries {
		liveSize += int64(e.ValueLength)
	}

	compactDataSize := liveSize
	if compactDataSize < mmapbuf.MinMappedSize {
		compactDataSize = mmapbuf.MinMappedSize
	}

	dataDir := filepath.Dir(sh.dataPath)

	tempDataFile, tempDataPath, err := sh.fsys.CreateTemp(dataDir, "hedgehog-compact-data-*")
	if err != nil {
		return fmt.Errorf("hedgehog: compact data temp: %w: %w", ErrIoFailure, err)
	}

	_ = tempDataFile.Close()

	tempBuf, err := mmapbuf.Open(sh.fsys, tempDataPath, compactDataSize, true, sh.maxRegion)
	if err != nil {
		return err
	}

	newOffsets := make([]int64, len(entries))

	var cursor int64

	for i, e := range entries {
		raw, err := rawValueAt(sh, e.ValueOffset, e.ValueLength)
		if err != nil {
			_ = tempBuf.Close()

			return err
		}

		if err := tempBuf.PutAt(cursor, raw); err != nil {
			_ = tempBuf.Close()

			return err
		}

		newOffsets[i] = cursor
		cursor += int64(e.ValueLength)
	}

	tempBuf.SetPosition(cursor)

	if err := tempBuf.Force(); err != nil {
		_ = tempBuf.Close()

		return err
	}

	idxDir := filepath.Dir(sh.idxPath)

	tempIdxFile, tempIdxPath, err := sh.fsys.CreateTemp(idxDir, "hedgehog-compact-idx-*")
	if err != nil {
		_ = tempBuf.Close()

		return fmt.Errorf("hedgehog: compact idx temp: %w: %w", ErrIoFailure, err)
	}

	_ = tempIdxFile.Close()

	tempIdx, err := idxstore.Open(sh.fsys, tempIdxPath, 0, 0, true, sh.maxRegion)
	if err != nil {
		_ = tempBuf.Close()

		return err
	}

	for i, e := range entries {
		if err := tempIdx.Put(e.Key, newOffsets[i], e.ValueLength); err != nil {
			_ = tempBuf.Close()
			_ = tempIdx.Close()

			return err
		}
	}

	if err := tempIdx.Compact(); err != nil {
		_ = tempBuf.Close()
		_ = tempIdx.Close()

		return err
	}

	if err := tempIdx.Force(); err != nil {
		_ = tempBuf.Close()
		_ = tempIdx.Close()

		return err
	}

	if err := tempIdx.CloseMapping(); err != nil {
		_ = tempBuf.Close()

		return err
	}

	if err := tempBuf.CloseMapping(); err != nil {
		return err
	}

	if err := atomic.ReplaceFile(tempDataPath, sh.dataPath); err != nil {
		return fmt.Errorf("hedgehog: compact rename %s: %w: %w", sh.dataPath, ErrIoFailure, err)
	}

	if err := atomic.ReplaceFile(tempIdxPath, sh.idxPath); err != nil {
		return fmt.Errorf("hedgehog: compact rename %s: %w: %w", sh.idxPath, ErrIoFailure, err)
	}

	if err := sh.idx.CloseMapping(); err != nil {
		return err
	}

	if err := sh.buf.CloseMapping(); err != nil {
		return err
	}

	newIdx, err := idxstore.Open(sh.fsys, sh.idxPath, 0, 0, sh.isPersistent, sh.maxRegion)
	if err != nil {
		return err
	}

	newBuf, err := mmapbuf.Open(sh.fsys, sh.dataPath, compactDataSize, sh.isPersistent, sh.maxRegion)
	if err != nil {
		_ = newIdx.Close()

		return err
	}

	newBuf.SetPosition(cursor)

	sh.idx = newIdx
	sh.buf = newBuf

	return nil
}
