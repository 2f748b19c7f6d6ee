// Package disktable implements the immutable, key-sorted LSM segment files
// produced by the disktable repository. A disktable is read-only for its
// entire life: it is created once (from a memtable flush or a merge) and
// destroyed only when a later merge consumes it.
package disktable

import (
	"encoding/binary"
	"fmt"
	"iter"
	"os"
	"syscall"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Priyanshu23/kvengines/dtentry"
)

// Identity is a stable handle a repository can use to locate and later
// delete the file backing a Disktable, independent of its filename. It
// prefers the filesystem inode where the platform exposes one and falls
// back to the filename otherwise.
type Identity struct {
	ino    uint64
	hasIno bool
	name   string
}

// IdentityFromFile derives an Identity for an open file known by name.
func IdentityFromFile(f *os.File, name string) Identity {
	id := Identity{name: name}
	if fi, err := f.Stat(); err == nil {
		if st, ok := fi.Sys().(*syscall.Stat_t); ok {
			id.ino = uint64(st.Ino)
			id.hasIno = true
		}
	}
	return id
}

// Equal reports whether a and b identify the same file.
func (a Identity) Equal(b Identity) bool {
	if a.hasIno && b.hasIno {
		return a.ino == b.ino
	}
	return a.name == b.name
}

// Name returns the identity's filename, for diagnostics and repository
// bookkeeping.
func (a Identity) Name() string { return a.name }

// Disktable is an immutable segment: entries sorted strictly ascending by
// key, each key appearing at most once.
type Disktable struct {
	file     *os.File
	size     int
	identity Identity
	bloom    *bloom.BloomFilter
}

// New wraps an already-written segment file of size entries. It builds an
// in-memory bloom filter over the segment's keys so Lookup can reject
// misses without a scan; the filter is never persisted, so it has no
// bearing on the file's on-disk byte size.
func New(file *os.File, size int, id Identity) (*Disktable, error) {
	d := &Disktable{file: file, size: size, identity: id}
	if size > 0 {
		d.bloom = bloom.NewWithEstimates(uint(size), 0.01)
		for i := 0; i < size; i++ {
			e, err := d.ReadPos(i)
			if err != nil {
				return nil, err
			}
			d.bloom.Add(keyBytes(e.Key))
		}
	}
	return d, nil
}

func keyBytes(key uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return buf[:]
}

// Identity returns the segment's stable file identity.
func (d *Disktable) Identity() Identity { return d.identity }

// Len returns the number of entries in the segment.
func (d *Disktable) Len() int { return d.size }

// OnDiskSize returns the segment file's byte length.
func (d *Disktable) OnDiskSize() int64 {
	fi, err := d.file.Stat()
	if err != nil {
		panic(fmt.Errorf("disktable: stat: %w", err))
	}
	return fi.Size()
}

// ReadPos decodes the entry at index i by byte-offset read.
func (d *Disktable) ReadPos(i int) (dtentry.Entry, error) {
	if i < 0 || i >= d.size {
		panic(fmt.Errorf("disktable: read pos %d out of range [0,%d)", i, d.size))
	}
	buf := make([]byte, dtentry.Size)
	if _, err := d.file.ReadAt(buf, int64(i*dtentry.Size)); err != nil {
		return dtentry.Entry{}, fmt.Errorf("disktable: read entry %d: %w", i, err)
	}
	return dtentry.Decode(buf)
}

// Iter sequentially scans every entry in the segment.
func (d *Disktable) Iter() iter.Seq[dtentry.Entry] {
	return func(yield func(dtentry.Entry) bool) {
		for i := 0; i < d.size; i++ {
			e, err := d.ReadPos(i)
			if err != nil {
				panic(err)
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Lookup returns the entry stored for key, if any. The segment's sort order
// never causes an early exit here: a hit on the bloom filter's "maybe
// present" path still walks entries front to back, since at most one entry
// per key can exist and a binary search is not required for correctness.
func (d *Disktable) Lookup(key uint64) (dtentry.Entry, bool) {
	if d.bloom != nil && !d.bloom.Test(keyBytes(key)) {
		return dtentry.Entry{}, false
	}
	for e := range d.Iter() {
		if e.Key == key {
			return e, true
		}
	}
	return dtentry.Entry{}, false
}

// Close releases the underlying file handle.
func (d *Disktable) Close() error {
	return d.file.Close()
}
