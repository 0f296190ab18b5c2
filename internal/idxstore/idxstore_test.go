package idxstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aluketa/hedgehog/internal/khash"
	"github.com/aluketa/hedgehog/internal/osfile"
)

func tempPath(t *testing.T, name string) string {
	t.Helper()

	return filepath.Join(t.TempDir(), name)
}

func openStore(t *testing.T, path string, capacity uint32) *Store {
	t.Helper()

	s, err := Open(osfile.NewReal(), path, capacity, 0, true, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestPutGetRemove(t *testing.T) {
	s := openStore(t, tempPath(t, "basic.idx"), 0)

	if err := s.Put([]byte("alpha"), 10, 5); err != nil {
		t.Fatalf("Put: %v", err)
	}

	off, length, ok, err := s.Get([]byte("alpha"))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}

	if off != 10 || length != 5 {
		t.Fatalf("got (%d,%d), want (10,5)", off, length)
	}

	if _, _, ok, _ := s.Get([]byte("missing")); ok {
		t.Fatalf("expected missing key to be absent")
	}

	existed, err := s.Remove([]byte("alpha"))
	if err != nil || !existed {
		t.Fatalf("Remove: existed=%v err=%v", existed, err)
	}

	if _, _, ok, _ := s.Get([]byte("alpha")); ok {
		t.Fatalf("expected removed key to be absent")
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	s := openStore(t, tempPath(t, "overwrite.idx"), 0)

	if err := s.Put([]byte("k"), 1, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Put([]byte("k"), 2, 2); err != nil {
		t.Fatalf("Put: %v", err)
	}

	off, length, ok, err := s.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}

	if off != 2 || length != 2 {
		t.Fatalf("got (%d,%d), want (2,2)", off, length)
	}

	if s.Size() != 1 {
		t.Fatalf("expected size 1 after overwrite, got %d", s.Size())
	}
}

func TestTombstoneReuseOnInsert(t *testing.T) {
	s := openStore(t, tempPath(t, "tombstone.idx"), MinCapacity)

	for i := 0; i < 3; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		if err := s.Put(key, int64(i), int32(i)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if _, err := s.Remove([]byte("k1")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if s.tombstones != 1 {
		t.Fatalf("expected 1 tombstone, got %d", s.tombstones)
	}

	// k0 and k2 must still be reachable after k1's removal.
	if _, _, ok, err := s.Get([]byte("k0")); err != nil || !ok {
		t.Fatalf("Get k0: ok=%v err=%v", ok, err)
	}

	if _, _, ok, err := s.Get([]byte("k2")); err != nil || !ok {
		t.Fatalf("Get k2: ok=%v err=%v", ok, err)
	}

	if err := s.Put([]byte("k3"), 99, 9); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if s.tombstones != 0 {
		t.Fatalf("expected tombstone to be reclaimed, got %d remaining", s.tombstones)
	}
}

func TestEntriesReturnsAllLive(t *testing.T) {
	s := openStore(t, tempPath(t, "entries.idx"), 0)

	want := map[string][2]int64{
		"a": {1, 1},
		"b": {2, 2},
		"c": {3, 3},
	}

	for k, v := range want {
		if err := s.Put([]byte(k), v[0], int32(v[1])); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if _, err := s.Remove([]byte("b")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 live entries, got %d", len(entries))
	}

	seen := map[string]bool{}
	for _, e := range entries {
		seen[string(e.Key)] = true
	}

	if seen["b"] || !seen["a"] || !seen["c"] {
		t.Fatalf("unexpected entry set: %+v", seen)
	}
}

func TestClearResetsToMinCapacity(t *testing.T) {
	s := openStore(t, tempPath(t, "clear.idx"), 0)

	for i := 0; i < 10; i++ {
		if err := s.Put([]byte(fmt.Sprintf("k%d", i)), int64(i), 1); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if s.Size() != 0 {
		t.Fatalf("expected size 0 after Clear, got %d", s.Size())
	}

	if s.capacity != MinCapacity {
		t.Fatalf("expected capacity reset to %d, got %d", MinCapacity, s.capacity)
	}

	if _, _, ok, _ := s.Get([]byte("k0")); ok {
		t.Fatalf("expected no keys to survive Clear")
	}
}

func TestGrowTriggersAutomaticallyUnderLoad(t *testing.T) {
	s := openStore(t, tempPath(t, "autogrow.idx"), 8)

	initialCapacity := s.capacity

	// Open raises the requested 8 slots to MinCapacity, so the 50% load
	// factor is only crossed after more than MinCapacity/2 entries.
	const n = 600

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := s.Put(key, int64(i), int32(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	if s.capacity <= initialCapacity {
		t.Fatalf("expected capacity to grow beyond %d, got %d", initialCapacity, s.capacity)
	}

	if s.Size() != n {
		t.Fatalf("expected size %d, got %d", n, s.Size())
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))

		off, length, ok, err := s.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get(%d): ok=%v err=%v", i, ok, err)
		}

		if off != int64(i) || length != int32(i) {
			t.Fatalf("Get(%d): got (%d,%d), want (%d,%d)", i, off, length, i, i)
		}
	}
}

func TestCompactShrinksToLiveSet(t *testing.T) {
	s := openStore(t, tempPath(t, "compact.idx"), 0)

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := s.Put(key, int64(i), int32(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	for i := 0; i < 90; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if _, err := s.Remove(key); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}

	if err := s.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if s.Size() != 10 {
		t.Fatalf("expected 10 live entries after compact, got %d", s.Size())
	}

	if s.capacity != MinCapacity {
		t.Fatalf("expected capacity to settle at floor %d, got %d", MinCapacity, s.capacity)
	}

	for i := 90; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))

		off, length, ok, err := s.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get(%d) after compact: ok=%v err=%v", i, ok, err)
		}

		if off != int64(i) || length != int32(i) {
			t.Fatalf("Get(%d) after compact: got (%d,%d), want (%d,%d)", i, off, length, i, i)
		}
	}
}

func TestReopenRestoresLiveEntries(t *testing.T) {
	path := tempPath(t, "reopen.idx")
	fsys := osfile.NewReal()

	s1, err := Open(fsys, path, 0, 0, true, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		if err := s1.Put(key, int64(i), int32(i)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if _, err := s1.Remove([]byte("key-05")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if err := s1.Force(); err != nil {
		t.Fatalf("Force: %v", err)
	}

	if err := s1.buf.Close(); err != nil {
		t.Fatalf("close mapping: %v", err)
	}

	s2, err := Open(fsys, path, 0, 0, true, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.Size() != 19 {
		t.Fatalf("expected 19 live entries after reopen, got %d", s2.Size())
	}

	if _, _, ok, _ := s2.Get([]byte("key-05")); ok {
		t.Fatalf("expected removed key to stay removed across reopen")
	}

	if _, _, ok, err := s2.Get([]byte("key-00")); err != nil || !ok {
		t.Fatalf("Get key-00: ok=%v err=%v", ok, err)
	}

	if err := s2.Put([]byte("key-new"), 999, 9); err != nil {
		t.Fatalf("Put after reopen: %v", err)
	}
}

// Collision-safety scenario: three keys that truly share a probe chain
// must each remain independently retrievable, including across a
// tombstone left by removing the one in the middle. Open's public floor
// keeps any requested capacity at MinCapacity, which makes it
// impractical to hit a real collision by picking arbitrary strings, so
// this white-box test pokes s.capacity down after Open and then
// searches for three real keys that hash to the same slot at that
// capacity.
func TestDistinctKeysSurviveProbeCollisions(t *testing.T) {
	s := openStore(t, tempPath(t, "collide.idx"), 0)

	const capacity uint64 = 8
	s.capacity = uint32(capacity)

	var keys [][]byte

	var slot uint64

	for i := 0; len(keys) < 3; i++ {
		k := []byte(fmt.Sprintf("candidate-%d", i))
		sl := khash.Slot(khash.Hash(k), capacity)

		if len(keys) > 0 && sl != slot {
			continue
		}

		slot = sl
		keys = append(keys, k)
	}

	for i, k := range keys {
		if err := s.Put(k, int64(i*10), int32(i)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	if _, err := s.Remove(keys[1]); err != nil {
		t.Fatalf("Remove(%s): %v", keys[1], err)
	}

	if s.tombstones != 1 {
		t.Fatalf("expected 1 tombstone, got %d", s.tombstones)
	}

	// keys[0] and keys[2] share keys[1]'s probe chain; keys[2] sits past
	// the tombstone keys[1] left behind on removal.
	for _, i := range []int{0, 2} {
		off, length, ok, err := s.Get(keys[i])
		if err != nil || !ok {
			t.Fatalf("Get(%s): ok=%v err=%v", keys[i], ok, err)
		}

		if off != int64(i*10) || length != int32(i) {
			t.Fatalf("Get(%s): got (%d,%d), want (%d,%d)", keys[i], off, length, i*10, i)
		}
	}

	if _, _, ok, _ := s.Get(keys[1]); ok {
		t.Fatalf("expected removed key to stay removed")
	}
}
