package hedgehog

import (
	"bytes"

	"github.com/aluketa/hedgehog/adapter"
)

// lockAll acquires every shard lock in ascending index order; unlockAll
// releases them in descending order. Together they rule out deadlock
// among Hedgehog's own global operations.
func (m *Map[K, V]) lockAll() {
	for _, sh := range m.shards {
		sh.mu.Lock()
	}
}

func (m *Map[K, V]) unlockAll() {
	for i := len(m.shards) - 1; i >= 0; i-- {
		m.shards[i].mu.Unlock()
	}
}

// Size returns the total live-entry count across all shards.
func (m *Map[K, V]) Size() (int, error) {
	m.lockAll()
	defer m.unlockAll()

	total := 0
	for _, sh := range m.shards {
		total += sh.idx.Size()
	}

	return total, nil
}

// IsEmpty reports whether every shard is empty.
func (m *Map[K, V]) IsEmpty() (bool, error) {
	m.lockAll()
	defer m.unlockAll()

	for _, sh := range m.shards {
		if sh.idx.Size() > 0 {
			return false, nil
		}
	}

	return true, nil
}

// allEntries returns every (keyBytes, valueBytes) pair across all
// shards under a global lock. Internal: callers decode as needed.
func (m *Map[K, V]) allEntries() ([][2][]byte, error) {
	m.lockAll()
	defer m.unlockAll()

	var out [][2][]byte

	for _, sh := range m.shards {
		entries, err := sh.idx.Entries()
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			raw, err := rawValueAt(sh, e.ValueOffset, e.ValueLength)
			if err != nil {
				return nil, err
			}

			out = append(out, [2][]byte{e.Key, raw})
		}
	}

	return out, nil
}

// Keys returns an iterator over every key currently present. No
// ordering guarantee.
func (m *Map[K, V]) Keys() (func(func(K) bool), error) {
	raw, err := m.allEntries()
	if err != nil {
		return nil, err
	}

	keys := make([]K, 0, len(raw))

	for _, pair := range raw {
		k, err := m.opts.KeyCodec.Decode(pair[0])
		if err != nil {
			return nil, err
		}

		keys = append(keys, k)
	}

	return adapter.Keys(keys), nil
}

// Values returns an iterator over every value currently present.
func (m *Map[K, V]) Values() (func(func(V) bool), error) {
	raw, err := m.allEntries()
	if err != nil {
		return nil, err
	}

	values := make([]V, 0, len(raw))

	for _, pair := range raw {
		v, err := m.decodeValue(pair[1])
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return adapter.Values(values), nil
}

// Entries returns an iterator over every (key, value) pair currently
// present.
func (m *Map[K, V]) Entries() (func(func(K, V) bool), error) {
	raw, err := m.allEntries()
	if err != nil {
		return nil, err
	}

	pairs := make([]adapter.Pair[K, V], 0, len(raw))

	for _, e := range raw {
		k, err := m.opts.KeyCodec.Decode(e[0])
		if err != nil {
			return nil, err
		}

		v, err := m.decodeValue(e[1])
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, adapter.Pair[K, V]{Key: k, Value: v})
	}

	return adapter.Entries(pairs), nil
}

// ContainsValue reports whether any entry's value equals v, compared on
// the codec-encoded byte form so V need not be comparable.
func (m *Map[K, V]) ContainsValue(v V) (bool, error) {
	want, err := m.encodeValue(v)
	if err != nil {
		return false, err
	}

	m.lockAll()
	defer m.unlockAll()

	for _, sh := range m.shards {
		entries, err := sh.idx.Entries()
		if err != nil {
			return false, err
		}

		for _, e := range entries {
			raw, err := rawValueAt(sh, e.ValueOffset, e.ValueLength)
			if err != nil {
				return false, err
			}

			if bytes.Equal(raw, want) {
				return true, nil
			}
		}
	}

	return false, nil
}

// Clear empties every shard: the index store is reset and the data
// buffer's cursor returns to 0. Files are not shrunk.
func (m *Map[K, V]) Clear() error {
	m.lockAll()
	defer m.unlockAll()

	for _, sh := range m.shards {
		if err := sh.idx.Clear(); err != nil {
			return err
		}

		sh.buf.SetPosition(0)
	}

	return nil
}

// Force flushes every shard's index and data files to disk.
func (m *Map[K, V]) Force() error {
	m.lockAll()
	defer m.unlockAll()

	for _, sh := range m.shards {
		if err := sh.force(); err != nil {
			return err
		}
	}

	return nil
}
