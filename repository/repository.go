// Package repository is the process-wide factory for LSM disktables: it
// allocates unique segment filenames, stamps monotonic revisions on
// memtable flushes, and performs the k-way merge that tiered compaction
// drives. All mutation is serialized by a single lock, so revisions stay
// globally monotonic even when several LSM engines in the same process
// share a Repository.
package repository

import (
	"container/heap"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Priyanshu23/kvengines/disktable"
	"github.com/Priyanshu23/kvengines/dtentry"
)

// DefaultDir is the directory new segment files are created under when the
// caller does not choose one of its own.
const DefaultDir = "lsmt"

const filenameLen = 12

// MemtableRecord is one key's logical state as handed from a memtable to
// the repository for flushing: a nil Value records a tombstone.
type MemtableRecord struct {
	Key   uint64
	Value *uint64
}

// Repository owns the live set of segment filenames and identities and the
// revision counter stamped onto every flush.
type Repository struct {
	mu            sync.Mutex
	dir           string
	usedFilenames map[string]struct{}
	filenames     []string
	identities    []disktable.Identity
	lastRev       uint64
}

// New creates a Repository rooted at dir. dir is created lazily on first
// file creation, not here.
func New(dir string) *Repository {
	return &Repository{
		dir:           dir,
		usedFilenames: make(map[string]struct{}),
	}
}

var (
	defaultOnce sync.Once
	defaultRepo *Repository
)

// Default returns the process-wide Repository rooted at DefaultDir, lazily
// constructed on first use and shared by every caller that does not supply
// its own Repository. Passing a Repository explicitly through a
// constructor, as the lsm package does, is preferred where it is
// convenient; Default exists for callers that just want the shared
// singleton behavior.
func Default() *Repository {
	defaultOnce.Do(func() {
		defaultRepo = New(DefaultDir)
	})
	return defaultRepo
}

func (r *Repository) generateFilename() string {
	for {
		id := uuid.New()
		candidate := hex.EncodeToString(id[:])[:filenameLen]
		if _, used := r.usedFilenames[candidate]; !used {
			return candidate
		}
	}
}

func (r *Repository) createFileLocked() (*os.File, disktable.Identity, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, disktable.Identity{}, fmt.Errorf("repository: create dir %s: %w", r.dir, err)
	}

	name := r.generateFilename()
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, disktable.Identity{}, fmt.Errorf("repository: create file %s: %w", path, err)
	}

	id := disktable.IdentityFromFile(f, name)
	r.usedFilenames[name] = struct{}{}
	r.filenames = append(r.filenames, name)
	r.identities = append(r.identities, id)

	return f, id, nil
}

// CreateFile allocates a fresh, uniquely named segment file.
func (r *Repository) CreateFile() (*os.File, disktable.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createFileLocked()
}

func (r *Repository) deleteFileLocked(id disktable.Identity) error {
	index := -1
	for i, existing := range r.identities {
		if existing.Equal(id) {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("repository: delete unknown file %s", id.Name())
	}

	name := r.filenames[index]
	if err := os.Remove(filepath.Join(r.dir, name)); err != nil {
		return fmt.Errorf("repository: remove %s: %w", name, err)
	}

	delete(r.usedFilenames, name)
	r.filenames = append(r.filenames[:index], r.filenames[index+1:]...)
	r.identities = append(r.identities[:index], r.identities[index+1:]...)
	return nil
}

// DeleteFile removes the segment file identified by id and drops it from
// bookkeeping.
func (r *Repository) DeleteFile(id disktable.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteFileLocked(id)
}

func (r *Repository) fromIterLocked(entries []dtentry.Entry) (*disktable.Disktable, error) {
	file, id, err := r.createFileLocked()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, err := file.Write(dtentry.Encode(e)); err != nil {
			return nil, fmt.Errorf("repository: write entry: %w", err)
		}
	}
	return disktable.New(file, len(entries), id)
}

// FromIter writes the supplied sequence as a new segment. The caller is
// responsible for the entries already being sorted ascending by key.
func (r *Repository) FromIter(entries []dtentry.Entry) (*disktable.Disktable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fromIterLocked(entries)
}

// FromMemtable stamps every record with a freshly incremented revision,
// converts (key, *value) pairs into Insert/Delete entries, sorts by key,
// and writes the result as a new segment.
func (r *Repository) FromMemtable(records []MemtableRecord) (*disktable.Disktable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastRev++
	rev := r.lastRev

	entries := make([]dtentry.Entry, len(records))
	for i, rec := range records {
		if rec.Value != nil {
			entries[i] = dtentry.Entry{Kind: dtentry.KindInsert, Rev: rev, Key: rec.Key, Value: *rec.Value}
		} else {
			entries[i] = dtentry.Entry{Kind: dtentry.KindDelete, Rev: rev, Key: rec.Key}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	return r.fromIterLocked(entries)
}

type heapItem struct {
	entry dtentry.Entry
	table int
	pos   int
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].entry.Key < h[j].entry.Key }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge performs a k-way merge across tables into one new segment,
// preserving each entry's original revision, then deletes every input
// file. When multiple inputs hold the same key, the heap only orders by
// key, so ties are broken explicitly here by picking the greatest revision
// among every heap entry sharing that key before emitting — a plain
// heap-order pop does not guarantee that on its own.
func (r *Repository) Merge(tables []*disktable.Disktable) (*disktable.Disktable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := &mergeHeap{}
	heap.Init(h)
	for i, t := range tables {
		if t.Len() == 0 {
			continue
		}
		e, err := t.ReadPos(0)
		if err != nil {
			return nil, err
		}
		heap.Push(h, heapItem{entry: e, table: i, pos: 0})
	}

	var merged []dtentry.Entry
	for h.Len() > 0 {
		key := (*h)[0].entry.Key

		var best dtentry.Entry
		haveBest := false
		for h.Len() > 0 && (*h)[0].entry.Key == key {
			item := heap.Pop(h).(heapItem)
			if !haveBest || item.entry.Rev > best.Rev {
				best = item.entry
				haveBest = true
			}
			if item.pos+1 < tables[item.table].Len() {
				next, err := tables[item.table].ReadPos(item.pos + 1)
				if err != nil {
					return nil, err
				}
				heap.Push(h, heapItem{entry: next, table: item.table, pos: item.pos + 1})
			}
		}
		merged = append(merged, best)
	}

	out, err := r.fromIterLocked(merged)
	if err != nil {
		return nil, err
	}

	for _, t := range tables {
		id := t.Identity()
		if err := t.Close(); err != nil {
			return nil, fmt.Errorf("repository: close merged input %s: %w", id.Name(), err)
		}
		if err := r.deleteFileLocked(id); err != nil {
			return nil, err
		}
	}

	return out, nil
}
