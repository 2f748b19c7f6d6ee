// Package lp implements a persistent, open-addressed hash table with linear
// probing and incremental, power-of-two growth mapped onto a single file.
//
// The interesting part of this package is resizeIfNeeded: rather than
// rehashing the whole file when the load factor is reached, it grows the
// file by one block at a time and only relocates entries from the band of
// older cells whose home slots move onto the cells just made visible.
// keyToPos folds the
// not-yet-materialized half of the address space back onto the cells that
// are currently live, so probing stays correct while a resize is only
// partially applied.
package lp

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"

	"github.com/Priyanshu23/kvengines/kv"
	"github.com/Priyanshu23/kvengines/lpentry"
)

var _ kv.Engine = (*Table)(nil)

// Options configures a new LP table.
type Options struct {
	// Filename is the path of the backing file. It must not already
	// exist: reopening a previously written LP file is unsupported (see
	// ErrExistingFile).
	Filename string
}

// ErrExistingFile is returned by Open when Filename already refers to a
// file. Resuming from a previously written LP file is not supported; the
// source this engine is modeled on hits a debug assertion on reopen, and an
// implementation faithful to it must refuse to silently "support" reopen
// instead.
var ErrExistingFile = fmt.Errorf("lp: reopening an existing file is not supported")

const initialTargetBytes = 2 * 1024 * 1024 // 2 MiB
const defaultLoadFactor = 0.5

// Table is a single-writer, file-backed linear-probed hash table.
type Table struct {
	file *os.File

	capacity     uint64 // logical addressing space (power of two), used only as hash modulus
	usedCapacity uint64 // physically allocated slots; capacity/2 <= usedCapacity <= capacity
	blockSize    uint64 // growth granularity, fixed at the initial capacity
	length       int
	loadFactor   float64
}

// Open creates a new LP table backed by a fresh file. It returns
// ErrExistingFile if the file already exists.
func Open(opts Options) (*Table, error) {
	if _, err := os.Stat(opts.Filename); err == nil {
		return nil, ErrExistingFile
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("lp: stat %s: %w", opts.Filename, err)
	}

	file, err := os.OpenFile(opts.Filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lp: create %s: %w", opts.Filename, err)
	}

	capacity := uint64(1)
	for capacity*lpentry.Size < initialTargetBytes {
		capacity *= 2
	}

	if _, err := file.WriteAt(make([]byte, capacity*lpentry.Size), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("lp: pre-fill %s: %w", opts.Filename, err)
	}

	return &Table{
		file:         file,
		capacity:     capacity,
		usedCapacity: capacity,
		blockSize:    capacity,
		loadFactor:   defaultLoadFactor,
	}, nil
}

// Close flushes the file to disk on a best-effort basis and closes it.
func (t *Table) Close() error {
	if err := unix.Fsync(int(t.file.Fd())); err != nil {
		_ = t.file.Close()
		return fmt.Errorf("lp: fsync: %w", err)
	}
	return t.file.Close()
}

func hash(key uint64) uint64 {
	var buf [8]byte
	buf[0] = byte(key)
	buf[1] = byte(key >> 8)
	buf[2] = byte(key >> 16)
	buf[3] = byte(key >> 24)
	buf[4] = byte(key >> 32)
	buf[5] = byte(key >> 40)
	buf[6] = byte(key >> 48)
	buf[7] = byte(key >> 56)
	return xxhash.Sum64(buf[:])
}

// keyToPos computes the byte offset of key's home slot, folding cells that
// have not yet been materialized by a partial growth back onto the live
// half of the address space.
func (t *Table) keyToPos(key uint64) uint64 {
	cell := hash(key) % t.capacity
	if cell < t.usedCapacity {
		return cell * lpentry.Size
	}
	return (cell - t.capacity/2) * lpentry.Size
}

func (t *Table) readSlotAt(pos uint64) lpentry.Slot {
	buf := make([]byte, lpentry.Size)
	if _, err := t.file.ReadAt(buf, int64(pos)); err != nil {
		panic(fmt.Errorf("lp: read slot at %d: %w", pos, err))
	}
	slot, err := lpentry.Decode(buf)
	if err != nil {
		panic(fmt.Errorf("lp: decode slot at %d: %w", pos, err))
	}
	return slot
}

func (t *Table) writeSlotAt(pos uint64, slot lpentry.Slot) {
	if _, err := t.file.WriteAt(lpentry.Encode(slot), int64(pos)); err != nil {
		panic(fmt.Errorf("lp: write slot at %d: %w", pos, err))
	}
}

// readKey walks the probe chain from key's home slot and returns the
// position and slot where key is stored, or the first empty slot reached.
func (t *Table) readKey(key uint64) (uint64, lpentry.Slot) {
	pos := t.keyToPos(key)
	for {
		slot := t.readSlotAt(pos)
		if !slot.Occupied || slot.Key == key {
			return pos, slot
		}
		pos += lpentry.Size
		if pos >= t.usedCapacity*lpentry.Size {
			pos = 0
		}
	}
}

// Set inserts or overwrites key's value.
func (t *Table) Set(key, value uint64) {
	pos, existing := t.readKey(key)
	if !existing.Occupied {
		t.length++
	}
	t.writeSlotAt(pos, lpentry.Slot{Occupied: true, Key: key, Value: value})
	t.resizeIfNeeded()
}

// Get returns key's value, or ok=false if key is absent.
func (t *Table) Get(key uint64) (uint64, bool) {
	_, slot := t.readKey(key)
	if !slot.Occupied {
		return 0, false
	}
	return slot.Value, true
}

// Remove deletes key if present. This leaves a hole that can break the
// probe-chain invariant for entries that follow it: remove does not
// tombstone or backshift. Benchmarks this engine is built for never call
// it; an implementation faithful to the source reproduces this rather than
// silently fixing it.
func (t *Table) Remove(key uint64) {
	pos, slot := t.readKey(key)
	if slot.Occupied {
		t.length--
		t.writeSlotAt(pos, lpentry.Empty)
	}
}

// Len returns the number of occupied slots.
func (t *Table) Len() int { return t.length }

// OnDiskSize returns the current byte length of the backing file.
func (t *Table) OnDiskSize() int64 {
	return int64(t.usedCapacity * lpentry.Size)
}

// resizeIfNeeded grows the file by one block, in place, once the load
// reaches the load factor. Rather than rehashing everything, it only
// relocates entries from the band of older cells whose home slots now map
// onto the newly visible cells; every other occupied slot is left untouched.
func (t *Table) resizeIfNeeded() {
	if float64(t.length)/float64(t.usedCapacity) < t.loadFactor {
		return
	}

	if t.usedCapacity == t.capacity {
		t.capacity *= 2
	}

	if _, err := t.file.WriteAt(make([]byte, t.blockSize*lpentry.Size), int64(t.usedCapacity*lpentry.Size)); err != nil {
		panic(fmt.Errorf("lp: grow file: %w", err))
	}

	start := t.usedCapacity - t.capacity/2
	t.usedCapacity += t.blockSize

	for cell := start; cell < start+t.blockSize; cell++ {
		pos := cell * lpentry.Size
		slot := t.readSlotAt(pos)
		if !slot.Occupied {
			continue
		}

		newPos := t.keyToPos(slot.Key)
		if newPos == pos {
			continue
		}

		cur := pos
		for {
			entry := t.readSlotAt(cur)
			if entry.Occupied && entry.Key == slot.Key {
				break
			}
			cur += lpentry.Size
			if cur >= t.usedCapacity*lpentry.Size {
				cur = 0
			}
		}

		t.writeSlotAt(cur, lpentry.Empty)
		t.length--
		t.Set(slot.Key, slot.Value)
	}
}
