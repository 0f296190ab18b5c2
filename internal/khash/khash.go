// Package khash provides the single hash function shared by the index
// store's probe sequence and the map engine's shard router.
//
// Using one hash for both means a key's shard assignment and its slot
// within that shard's index are derived from the same bits, keeping
// routing and probing consistent.
package khash

import "github.com/cespare/xxhash/v2"

// Hash returns a 64-bit digest of key. It is unsigned by construction,
// so there is no abs-overflow hazard the way there would be with a
// signed hashCode()-style hash.
//
// The digest is stable across processes and runs of the same Go
// toolchain, which is required for persistent stores: a key's slot must
// be reproducible after a restore.
func Hash(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// Slot returns the starting probe index for hash h in a table of the
// given capacity. capacity need not be a power of two: the index table
// this backs grows by 3x, not doubling.
func Slot(h uint64, capacity uint64) uint64 {
	if capacity == 0 {
		return 0
	}

	return h % capacity
}

// Shard returns the shard index for hash h across n shards.
func Shard(h uint64, n int) int {
	if n <= 1 {
		return 0
	}

	return int(h % uint64(n))
}
