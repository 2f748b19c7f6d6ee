package disktable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Priyanshu23/kvengines/dtentry"
)

func writeSegment(t *testing.T, entries []dtentry.Entry) *Disktable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, e := range entries {
		if _, err := f.Write(dtentry.Encode(e)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	d, err := New(f, len(entries), IdentityFromFile(f, "segment"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestLookupHitAndMiss(t *testing.T) {
	d := writeSegment(t, []dtentry.Entry{
		{Kind: dtentry.KindInsert, Rev: 1, Key: 1, Value: 10},
		{Kind: dtentry.KindInsert, Rev: 1, Key: 5, Value: 50},
		{Kind: dtentry.KindDelete, Rev: 1, Key: 9},
	})

	e, ok := d.Lookup(5)
	if !ok || e.Value != 50 {
		t.Fatalf("Lookup(5) = (%+v, %v), want value 50", e, ok)
	}

	e, ok = d.Lookup(9)
	if !ok || !e.IsTombstone() {
		t.Fatalf("Lookup(9) = (%+v, %v), want tombstone hit", e, ok)
	}

	if _, ok := d.Lookup(100); ok {
		t.Fatal("Lookup(100) should miss")
	}
}

func TestOnDiskSizeIsExactEntryBytes(t *testing.T) {
	entries := []dtentry.Entry{
		{Kind: dtentry.KindInsert, Rev: 1, Key: 1, Value: 1},
		{Kind: dtentry.KindInsert, Rev: 1, Key: 2, Value: 2},
	}
	d := writeSegment(t, entries)

	if got, want := d.OnDiskSize(), int64(len(entries)*dtentry.Size); got != want {
		t.Fatalf("OnDiskSize() = %d, want %d", got, want)
	}
}

func TestIterVisitsEveryEntryInOrder(t *testing.T) {
	entries := []dtentry.Entry{
		{Kind: dtentry.KindInsert, Rev: 1, Key: 1, Value: 1},
		{Kind: dtentry.KindInsert, Rev: 1, Key: 2, Value: 2},
		{Kind: dtentry.KindInsert, Rev: 1, Key: 3, Value: 3},
	}
	d := writeSegment(t, entries)

	var got []uint64
	for e := range d.Iter() {
		got = append(got, e.Key)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("Iter() = %v, want [1 2 3]", got)
	}
}
