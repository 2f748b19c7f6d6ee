// Package lsm wires a memtable, a tiered compactor, and a disktable
// repository together into the shared kv.Engine contract. Writes land in
// the memtable; once it reaches its configured capacity, it is drained into
// a fresh disktable and handed to the compactor, which may in turn cascade
// one or more merges.
package lsm

import (
	"fmt"

	"github.com/Priyanshu23/kvengines/compaction"
	"github.com/Priyanshu23/kvengines/kv"
	"github.com/Priyanshu23/kvengines/memtable"
	"github.com/Priyanshu23/kvengines/repository"
)

var _ kv.Engine = (*Engine)(nil)

// Options configures a new LSM engine.
type Options struct {
	// MemtableCapacity is the number of records at which the memtable is
	// flushed to a new disktable. The flush happens right after the write
	// that brings the memtable to this size, not before it.
	MemtableCapacity int

	// MaxFilesPerLevel is the tiered compactor's per-level file budget;
	// exceeding it triggers a merge into the next level.
	MaxFilesPerLevel int
}

// Engine is the in-memory-buffer-plus-compactor LSM implementation of
// kv.Engine.
type Engine struct {
	repo *repository.Repository
	comp *compaction.Tiered
	mem  memtable.Memtable
	cap  int
}

// New builds an LSM engine backed by repo. Passing the repository in
// explicitly (rather than reaching for a package-level singleton) lets
// callers run several engines against independent directories, or share one
// repository's filename/revision namespace across several engines on
// purpose.
func New(repo *repository.Repository, opts Options) *Engine {
	return &Engine{
		repo: repo,
		comp: compaction.NewTiered(repo, opts.MaxFilesPerLevel),
		mem:  memtable.New(),
		cap:  opts.MemtableCapacity,
	}
}

// Set writes (key, value) into the memtable, flushing to a new disktable if
// the memtable has reached its configured capacity.
func (e *Engine) Set(key, value uint64) {
	v := value
	e.mem.Put(key, &v)
	e.flushOnThreshold()
}

// Get consults the memtable first: a present entry is authoritative,
// whether it is a value or a tombstone. Only a miss in the memtable falls
// through to the compactor.
func (e *Engine) Get(key uint64) (uint64, bool) {
	if v, ok := e.mem.Get(key); ok {
		if v == nil {
			return 0, false
		}
		return *v, true
	}
	return e.comp.Get(key)
}

// Remove records a tombstone for key in the memtable, flushing on
// threshold. It does not call the memtable's own Remove: that erases the
// key outright, which would lose the fact that it was ever written and let
// an older value resurface from a disktable beneath it. Storing a nil
// value is how the memtable represents Option<value>::None here.
func (e *Engine) Remove(key uint64) {
	e.mem.Put(key, nil)
	e.flushOnThreshold()
}

// Len is not authoritative for the LSM engine: it reports only the number
// of distinct keys currently buffered in the memtable, not the logical key
// count across every flushed segment (duplicate keys across levels are not
// deduplicated here without a full scan). The shared contract does not
// require LSM to make this meaningful; see kv.Engine.
func (e *Engine) Len() int { return e.mem.Len() }

// OnDiskSize sums the byte length of every disktable the compactor
// currently holds across every level. It does not include the memtable,
// which has not been persisted yet.
func (e *Engine) OnDiskSize() int64 { return e.comp.OnDiskSize() }

func (e *Engine) flushOnThreshold() {
	if e.mem.Len() < e.cap {
		return
	}

	records := make([]repository.MemtableRecord, 0, e.mem.Len())
	for rec := range e.mem.Iterator() {
		records = append(records, repository.MemtableRecord{Key: rec.Key, Value: rec.Value})
	}

	table, err := e.repo.FromMemtable(records)
	if err != nil {
		panic(fmt.Errorf("lsm: flush memtable: %w", err))
	}

	if err := e.comp.Add(table); err != nil {
		panic(fmt.Errorf("lsm: add flushed segment to compactor: %w", err))
	}

	e.mem = memtable.New()
}
