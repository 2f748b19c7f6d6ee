package compaction

import (
	"testing"

	"github.com/bits-and-blooms/bitset"

	"github.com/Priyanshu23/kvengines/repository"
)

func TestCascadeMergesDownToOneSegment(t *testing.T) {
	repo := repository.New(t.TempDir())
	c := NewTiered(repo, 1)

	// seen tracks which of the four keys has been observed present in the
	// compactor at least once, a lightweight way of confirming every
	// flush is readable right after Add, including any cascade it set off.
	seen := bitset.New(4)

	payloads := []struct{ key, value uint64 }{
		{1, 1}, {2, 2}, {3, 3}, {4, 4},
	}

	for _, p := range payloads {
		value := p.value
		d, err := repo.FromMemtable([]repository.MemtableRecord{{Key: p.key, Value: &value}})
		if err != nil {
			t.Fatalf("FromMemtable: %v", err)
		}
		if err := c.Add(d); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if v, ok := c.Get(p.key); !ok || v != p.value {
			t.Fatalf("Get(%d) = (%d, %v) right after flush, want (%d, true)", p.key, v, ok, p.value)
		}
		seen.Set(uint(p.key - 1))
	}

	if seen.Count() != 4 {
		t.Fatalf("expected all 4 keys observed, bitset count = %d", seen.Count())
	}

	for _, p := range payloads {
		v, ok := c.Get(p.key)
		if !ok || v != p.value {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", p.key, v, ok, p.value)
		}
	}

	if got, want := c.OnDiskSize(), int64(4*28); got != want {
		t.Fatalf("OnDiskSize() = %d, want %d", got, want)
	}

	survivors := 0
	for _, level := range c.levels {
		survivors += len(level)
	}
	if survivors != 1 {
		t.Fatalf("expected exactly one surviving segment, got %d", survivors)
	}
}

func TestGetPrefersHighestRevAcrossSegments(t *testing.T) {
	repo := repository.New(t.TempDir())
	c := NewTiered(repo, 10) // large budget: nothing cascades

	v := uint64(100)
	first, err := repo.FromMemtable([]repository.MemtableRecord{{Key: 1, Value: &v}})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(first); err != nil {
		t.Fatal(err)
	}

	second, err := repo.FromMemtable([]repository.MemtableRecord{{Key: 1, Value: nil}})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(second); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get(1); ok {
		t.Fatal("Get(1) should miss: most recent revision is a tombstone")
	}
}

func TestDisjointKeysAllReadable(t *testing.T) {
	repo := repository.New(t.TempDir())
	c := NewTiered(repo, 2)

	for key := uint64(1); key <= 3; key++ {
		value := key * 10
		d, err := repo.FromMemtable([]repository.MemtableRecord{{Key: key, Value: &value}})
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Add(d); err != nil {
			t.Fatal(err)
		}
	}

	for key := uint64(1); key <= 3; key++ {
		v, ok := c.Get(key)
		if !ok || v != key*10 {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", key, v, ok, key*10)
		}
	}
}
