// Package memtable provides the LSM engine's in-memory write buffer: an
// ordered key -> Option<value> map. Spec's memtable is "a key -> Option
// value mapping": a present entry whose Value is nil is a tombstone written
// by a Remove that has not yet reached a disktable, distinct from the key
// never having been written at all, which Get reports with ok=false.
package memtable

import "iter"

// Record is one entry as handed out by Iterator. Value is nil for a
// tombstone, non-nil for an insertion.
type Record struct {
	Key   uint64
	Value *uint64
}

// Memtable is the write-buffer surface the lsm package drives.
type Memtable interface {
	// Put inserts or overwrites the entry for key. A nil value records a
	// tombstone at key, not a deletion of it — Get and Iterator still
	// report key as present.
	Put(key uint64, value *uint64)

	// Get reports the entry stored for key: ok is false only when key has
	// never been written. A tombstone is reported as ok=true, value=nil.
	Get(key uint64) (value *uint64, ok bool)

	// Remove erases key outright, as opposed to tombstoning it; unlike
	// Put(key, nil), a subsequent Get reports ok=false. The lsm engine
	// never calls this for a user-level Remove (see lsm.Engine.Remove);
	// it exists for callers that want the key gone from the buffer
	// entirely, e.g. once it has already been folded into a flushed
	// segment.
	Remove(key uint64)

	// Len reports the number of distinct keys currently held, tombstones
	// included.
	Len() int

	// Iterator walks every entry in ascending key order.
	Iterator() iter.Seq[Record]
}
