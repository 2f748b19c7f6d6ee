// Package compaction organizes an LSM engine's live segments into tiers and
// triggers merges when a tier overflows. A point get walks every segment in
// every level and compares per-entry revisions across the whole structure;
// it does not rely on level order to decide which entry is newest.
package compaction

import (
	"fmt"

	"github.com/Priyanshu23/kvengines/disktable"
	"github.com/Priyanshu23/kvengines/dtentry"
	"github.com/Priyanshu23/kvengines/repository"
)

// Compactor is the shared surface a LSM engine drives; Tiered is the only
// implementation this package provides, following the source's own
// trait-based split between the LSM tree and its compaction strategy.
type Compactor interface {
	Add(d *disktable.Disktable) error
	Get(key uint64) (value uint64, ok bool)
	OnDiskSize() int64
}

// Tiered is a level-based compaction strategy: level 0 receives every
// freshly flushed segment; once a level holds more than maxFilesPerLevel
// segments, all of them are merged into one segment pushed to the next
// level, and the cascade repeats for as long as the pushed-to level also
// overflows.
type Tiered struct {
	repo             *repository.Repository
	maxFilesPerLevel int
	levels           [][]*disktable.Disktable
}

// NewTiered builds a Tiered compactor backed by repo.
func NewTiered(repo *repository.Repository, maxFilesPerLevel int) *Tiered {
	return &Tiered{repo: repo, maxFilesPerLevel: maxFilesPerLevel}
}

// Add appends d to level 0 and cascades merges for as long as a level
// exceeds its file budget.
func (c *Tiered) Add(d *disktable.Disktable) error {
	if len(c.levels) == 0 {
		c.levels = append(c.levels, nil)
	}
	c.levels[0] = append(c.levels[0], d)

	for level := 0; len(c.levels[level]) > c.maxFilesPerLevel; level++ {
		batch := c.levels[level]
		c.levels[level] = nil

		merged, err := c.repo.Merge(batch)
		if err != nil {
			return fmt.Errorf("compaction: merge level %d: %w", level, err)
		}

		if level+1 == len(c.levels) {
			c.levels = append(c.levels, nil)
		}
		c.levels[level+1] = append(c.levels[level+1], merged)
	}
	return nil
}

// Get scans every segment in every level; the entry with the greatest
// revision wins regardless of which level it was found in. A winning
// tombstone reads as absent.
func (c *Tiered) Get(key uint64) (uint64, bool) {
	var best dtentry.Entry
	haveBest := false

	for _, level := range c.levels {
		for _, d := range level {
			entry, found := d.Lookup(key)
			if !found {
				continue
			}
			if !haveBest || entry.Rev > best.Rev {
				best = entry
				haveBest = true
			}
		}
	}

	if !haveBest || best.IsTombstone() {
		return 0, false
	}
	return best.Value, true
}

// OnDiskSize sums the byte length of every live segment across every
// level.
func (c *Tiered) OnDiskSize() int64 {
	var total int64
	for _, level := range c.levels {
		for _, d := range level {
			total += d.OnDiskSize()
		}
	}
	return total
}
