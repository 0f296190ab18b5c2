package khash

import "testing"

func TestHashIsDeterministic(t *testing.T) {
	a := Hash([]byte("Test Key"))
	b := Hash([]byte("Test Key"))

	if a != b {
		t.Fatalf("hash not stable across calls: %d != %d", a, b)
	}
}

func TestHashDiffersForDifferentKeys(t *testing.T) {
	a := Hash([]byte("key1"))
	b := Hash([]byte("key2"))

	if a == b {
		t.Fatalf("expected distinct hashes, got equal: %d", a)
	}
}

func TestSlotWithinCapacity(t *testing.T) {
	h := Hash([]byte("anything"))
	for _, cap := range []uint64{1, 2, 1024, 3071, 1_000_003} {
		s := Slot(h, cap)
		if s >= cap {
			t.Fatalf("slot %d out of range for capacity %d", s, cap)
		}
	}
}

func TestSlotZeroCapacity(t *testing.T) {
	if s := Slot(42, 0); s != 0 {
		t.Fatalf("expected 0 for zero capacity, got %d", s)
	}
}

func TestShardWithinRange(t *testing.T) {
	h := Hash([]byte("route-me"))
	for _, n := range []int{1, 2, 4, 16} {
		s := Shard(h, n)
		if s < 0 || s >= n {
			t.Fatalf("shard %d out of range for n=%d", s, n)
		}
	}
}

func TestShardSingleAlwaysZero(t *testing.T) {
	for _, key := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		if s := Shard(Hash(key), 1); s != 0 {
			t.Fatalf("expected shard 0 for n=1, got %d", s)
		}
	}
}
