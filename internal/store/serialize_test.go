package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ctxengine/internal/entry"
)

func TestExportImport_RoundTrip(t *testing.T) {
	src := New()
	a := addEntry(t, src, entry.New(entry.TypeTask, "planner", "root task").
		WithContent("investigate the flaky pipeline"))
	b := addEntry(t, src, entry.New(entry.TypeCommand, "shell", "repro command").
		WithParent(a).
		WithTTL(90*time.Minute))
	c := addEntry(t, src, entry.New(entry.TypeSummary, "compactor", "findings").
		WithDerivedFrom(a, b))
	hidden := entry.New(entry.TypeCommandResult, "shell", "raw output")
	hidden.Searchable = false
	addEntry(t, src, hidden)
	if err := src.Compress(a); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	snap := src.Export()

	dst := New()
	if err := dst.Import(snap); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if diff := cmp.Diff(snap, dst.Export()); diff != "" {
		t.Errorf("round trip lost data (-first +second):\n%s", diff)
	}

	// Relationships and index state are rebuilt, not just the fields.
	assertIDSet(t, "Descendants(a)", dst.GetDescendants(a), b, c)
	assertIDSet(t, "DerivationChain(c)", dst.GetDerivationChain(c), a, b)
	if res := dst.Search("flaky pipeline", 10, 0); len(res) != 0 {
		t.Error("compressed entry's discarded content resurfaced after import")
	}
	if res := dst.Search("findings", 10, 0); len(res) != 1 || res[0].Entry.ID != c {
		t.Errorf("imported entry not searchable: %v", res)
	}
	if res := dst.Search("raw output", 10, 0); len(res) != 0 {
		t.Error("non-searchable entry indexed by import")
	}
}

func TestExport_IncludesUnsweptExpired(t *testing.T) {
	s := New()
	id := addEntry(t, s, entry.New(entry.TypeCommandResult, "shell", "short lived").
		WithTTL(10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	snap := s.Export()
	if _, ok := snap[id]; !ok {
		t.Error("expired-but-unswept entry missing from export")
	}
}

func TestExportImport_PreservesExpiry(t *testing.T) {
	src := New()
	id := addEntry(t, src, entry.New(entry.TypeCommandResult, "shell", "already stale").
		WithTTL(10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	snap := src.Export()
	rec, ok := snap[id]
	if !ok {
		t.Fatal("expired entry missing from export")
	}
	if rec.TTLMillis == nil || *rec.TTLMillis != 10 {
		t.Fatalf("ttl not persisted exactly: %v", rec.TTLMillis)
	}

	dst := New()
	if err := dst.Import(snap); err != nil {
		t.Fatalf("Import: %v", err)
	}

	// The entry arrives physically but must still be expired, same as in the
	// source store before the sweep.
	if !dst.Contains(id) {
		t.Fatal("unswept expired entry lost on import")
	}
	if _, ok := dst.Get(id); ok {
		t.Error("import resurrected an expired entry")
	}
	imported := dst.GetAll(true)
	for _, got := range imported {
		if got.ID == id && got.TTL != 10*time.Millisecond {
			t.Errorf("ttl changed through the round trip: %v", got.TTL)
		}
	}
}

func TestImport_PreservesDanglingReferences(t *testing.T) {
	src := New()
	parent := addEntry(t, src, entry.New(entry.TypeTask, "planner", "doomed parent"))
	child := addEntry(t, src, entry.New(entry.TypeTask, "planner", "survivor").WithParent(parent))
	src.Remove(parent)

	snap := src.Export()

	dst := New()
	if err := dst.Import(snap); err != nil {
		t.Fatalf("Import: %v", err)
	}

	e, ok := dst.Get(child)
	if !ok {
		t.Fatal("orphaned entry lost on import")
	}
	if e.ParentID != parent {
		t.Errorf("dangling parent_id rewritten: %q", e.ParentID)
	}
	if _, ok := dst.GetParent(child); ok {
		t.Error("import materialized an edge to a nonexistent entry")
	}
}

func TestImport_ReplacesCurrentState(t *testing.T) {
	s := New()
	old := addEntry(t, s, entry.New(entry.TypeTask, "planner", "pre-import state"))

	other := New()
	kept := addEntry(t, other, entry.New(entry.TypeFile, "scanner", "post-import state"))

	if err := s.Import(other.Export()); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if s.Contains(old) {
		t.Error("import kept pre-existing entries")
	}
	if !s.Contains(kept) {
		t.Error("import dropped snapshot entries")
	}
}

func TestImport_RejectsBadSnapshot(t *testing.T) {
	s := New()
	keep := addEntry(t, s, entry.New(entry.TypeTask, "planner", "must survive"))

	bad := Snapshot{
		"ctx_mismatch": entry.Record{
			ID:        "ctx_other001",
			Type:      "TASK",
			Source:    "planner",
			Summary:   "key and id disagree",
			CreatedAt: time.Now().UTC().Format(entry.TimeLayout),
		},
	}
	if err := s.Import(bad); err == nil {
		t.Fatal("expected error for key/id mismatch")
	}

	malformed := Snapshot{
		"ctx_badent01": entry.Record{
			ID:        "ctx_badent01",
			Type:      "not-a-type",
			Source:    "planner",
			Summary:   "invalid type",
			CreatedAt: time.Now().UTC().Format(entry.TimeLayout),
		},
	}
	if err := s.Import(malformed); err == nil {
		t.Fatal("expected error for invalid entry type")
	}

	// Failed imports leave the store untouched.
	if !s.Contains(keep) {
		t.Error("failed import destroyed current state")
	}
}
