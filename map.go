// Package hedgehog is an embeddable, disk-backed key-value map. Values
// and keys are opaque to the engine; a Codec on each side turns them
// into the bytes actually stored across a pair of memory-mapped files
// per shard.
package hedgehog

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/aluketa/hedgehog/internal/khash"
	"github.com/aluketa/hedgehog/internal/osfile"
)

// Map is a sharded, disk-backed key-value store.
type Map[K any, V any] struct {
	opts   Options[K, V]
	fsys   osfile.FS
	shards []*shard

	mu     sync.RWMutex // guards closed, not shard content
	closed bool
}

// Open constructs a Map per opts: each shard's index store is
// opened/restored, its data buffer is opened, and if the index store
// restored non-empty the data cursor is set to the highest live
// (offset+length), the first byte past the last live value.
func Open[K any, V any](opts Options[K, V]) (*Map[K, V], error) {
	opts.setDefaults()

	if err := opts.validate(); err != nil {
		return nil, err
	}

	cfg := shardConfig{
		dataPath:        opts.DataPath,
		name:            opts.Name,
		isPersistent:    opts.IsPersistent,
		initialFileSize: opts.InitialFileSize,
		maxRegionSize:   opts.MaxRegionSize,
	}

	shards := make([]*shard, opts.ConcurrencyFactor)

	for i := range shards {
		sh, err := openShard(opts.fsys, cfg, i)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = shards[j].close()
			}

			return nil, err
		}

		shards[i] = sh
	}

	return &Map[K, V]{opts: opts, fsys: opts.fsys, shards: shards}, nil
}

func (m *Map[K, V]) shardFor(keyBytes []byte) *shard {
	idx := khash.Shard(khash.Hash(keyBytes), len(m.shards))

	return m.shards[idx]
}

func (m *Map[K, V]) encodeKey(k K) ([]byte, error) {
	b, err := m.opts.KeyCodec.Encode(k)
	if err != nil {
		return nil, fmt.Errorf("hedgehog: encode key: %w: %w", ErrSerialization, err)
	}

	return b, nil
}

func (m *Map[K, V]) encodeValue(v V) ([]byte, error) {
	b, err := m.opts.ValueCodec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("hedgehog: encode value: %w: %w", ErrSerialization, err)
	}

	return b, nil
}

func (m *Map[K, V]) decodeValue(b []byte) (V, error) {
	v, err := m.opts.ValueCodec.Decode(b)
	if err != nil {
		return v, fmt.Errorf("hedgehog: decode value: %w: %w", ErrSerialization, err)
	}

	return v, nil
}

// getLocked reads key's value under sh's lock (already held), reading
// at an absolute offset so the shard's append cursor is undisturbed.
func (m *Map[K, V]) getLocked(sh *shard, keyBytes []byte) (V, bool, error) {
	var zero V

	off, length, ok, err := sh.idx.Get(keyBytes)
	if err != nil {
		return zero, false, err
	}

	if !ok {
		return zero, false, nil
	}

	raw := make([]byte, length)
	if _, err := sh.buf.GetAt(off, raw); err != nil {
		return zero, false, err
	}

	v, err := m.decodeValue(raw)
	if err != nil {
		return zero, false, err
	}

	return v, true, nil
}

// rawValueAt reads the undecoded value bytes for an already-located
// (offset, length) pair, used by equality checks that compare encoded
// forms instead of requiring V to be comparable.
func rawValueAt(sh *shard, off int64, length int32) ([]byte, error) {
	raw := make([]byte, length)
	if _, err := sh.buf.GetAt(off, raw); err != nil {
		return nil, err
	}

	return raw, nil
}

func (m *Map[K, V]) growBufferFor(sh *shard, need int) error {
	if sh.buf.Position()+int64(need) <= sh.buf.Capacity() {
		return nil
	}

	newSize := sh.buf.Capacity() + int64(need)
	if doubled := sh.buf.Capacity() * 2; doubled > newSize {
		newSize = doubled
	}

	return sh.buf.Grow(newSize)
}

// Put inserts or overwrites key's value, returning the previous value
// if one existed.
func (m *Map[K, V]) Put(k K, v V) (prev V, hadPrev bool, err error) {
	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return prev, false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, hadPrev, err = m.getLocked(sh, keyBytes)
	if err != nil {
		return prev, false, err
	}

	if err := m.putLocked(sh, keyBytes, v); err != nil {
		return prev, false, err
	}

	return prev, hadPrev, nil
}

func (m *Map[K, V]) putLocked(sh *shard, keyBytes []byte, v V) error {
	valBytes, err := m.encodeValue(v)
	if err != nil {
		return err
	}

	if err := m.growBufferFor(sh, len(valBytes)); err != nil {
		return err
	}

	writePos := sh.buf.Position()
	if err := sh.buf.Put(valBytes); err != nil {
		return err
	}

	return sh.idx.Put(keyBytes, writePos, int32(len(valBytes)))
}

// Get returns key's value, or (zero, false) if absent.
func (m *Map[K, V]) Get(k K) (V, bool, error) {
	var zero V

	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return zero, false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	return m.getLocked(sh, keyBytes)
}

// Remove deletes key if present, returning its previous value.
func (m *Map[K, V]) Remove(k K) (prev V, existed bool, err error) {
	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return prev, false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, existed, err = m.getLocked(sh, keyBytes)
	if err != nil || !existed {
		return prev, existed, err
	}

	if _, err := sh.idx.Remove(keyBytes); err != nil {
		return prev, false, err
	}

	return prev, true, nil
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(k K) (bool, error) {
	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.idx.Contains(keyBytes)
}

// PutIfAbsent inserts v only if key is absent; returns the existing
// value if key was already present.
func (m *Map[K, V]) PutIfAbsent(k K, v V) (existing V, existed bool, err error) {
	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return existing, false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, existed, err = m.getLocked(sh, keyBytes)
	if err != nil || existed {
		return existing, existed, err
	}

	if err := m.putLocked(sh, keyBytes, v); err != nil {
		return existing, false, err
	}

	return existing, false, nil
}

// Replace sets key's value to v only if key is present, returning the
// prior value.
func (m *Map[K, V]) Replace(k K, v V) (prev V, existed bool, err error) {
	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return prev, false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, existed, err = m.getLocked(sh, keyBytes)
	if err != nil || !existed {
		return prev, existed, err
	}

	if err := m.putLocked(sh, keyBytes, v); err != nil {
		return prev, false, err
	}

	return prev, true, nil
}

// ReplaceIf sets key's value to newV only if key is present and its
// current value's encoded bytes equal oldV's encoded bytes. V need not
// be comparable: equality is checked on the codec's byte form, which is
// correct for any deterministic codec.
func (m *Map[K, V]) ReplaceIf(k K, oldV, newV V) (bool, error) {
	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return false, err
	}

	oldBytes, err := m.encodeValue(oldV)
	if err != nil {
		return false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	off, length, ok, err := sh.idx.Get(keyBytes)
	if err != nil || !ok {
		return false, err
	}

	current, err := rawValueAt(sh, off, length)
	if err != nil {
		return false, err
	}

	if !bytes.Equal(current, oldBytes) {
		return false, nil
	}

	if err := m.putLocked(sh, keyBytes, newV); err != nil {
		return false, err
	}

	return true, nil
}

// RemoveIf deletes key only if it is present and its current value's
// encoded bytes equal v's encoded bytes.
func (m *Map[K, V]) RemoveIf(k K, v V) (bool, error) {
	keyBytes, err := m.encodeKey(k)
	if err != nil {
		return false, err
	}

	vBytes, err := m.encodeValue(v)
	if err != nil {
		return false, err
	}

	sh := m.shardFor(keyBytes)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	off, length, ok, err := sh.idx.Get(keyBytes)
	if err != nil || !ok {
		return false, err
	}

	current, err := rawValueAt(sh, off, length)
	if err != nil {
		return false, err
	}

	if !bytes.Equal(current, vBytes) {
		return false, nil
	}

	if _, err := sh.idx.Remove(keyBytes); err != nil {
		return false, err
	}

	return true, nil
}

// Close releases every shard's mappings (deleting files for ephemeral
// stores).
func (m *Map[K, V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	var firstErr error

	for _, sh := range m.shards {
		if err := sh.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
