package store

import (
	"fmt"
	"sort"

	"ctxengine/internal/entry"
	"ctxengine/internal/logging"
)

// Snapshot is the persisted representation of the full store: a mapping from
// entry id to the plain record form. This is the only interface the
// checkpoint subsystem consumes.
type Snapshot map[string]entry.Record

// Export serializes the full map, including expired-but-unswept entries, so
// the round trip through a checkpoint is lossless.
func (s *Store) Export() Snapshot {
	timer := logging.StartTimer(logging.CategoryStore, "Export")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.entries))
	for id, e := range s.entries {
		snap[id] = e.ToRecord()
	}
	logging.Store("exported %d entries", len(snap))
	return snap
}

// Import reconstructs store state from a snapshot, replacing current
// contents. Fields round-trip losslessly: dangling references (orphans left
// behind by the removal policy) are kept on the entry but produce no graph
// edge. A snapshot containing a relationship cycle is rejected and the store
// is left unchanged.
func (s *Store) Import(snap Snapshot) error {
	timer := logging.StartTimer(logging.CategoryStore, "Import")
	defer timer.Stop()

	entries := make(map[string]*entry.Entry, len(snap))
	ids := make([]string, 0, len(snap))
	for id, rec := range snap {
		if id != rec.ID {
			return fmt.Errorf("snapshot key %q does not match record id %q", id, rec.ID)
		}
		e, err := entry.FromRecord(rec)
		if err != nil {
			return fmt.Errorf("entry %s: %w", id, err)
		}
		entries[id] = e
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Stage on fresh components so a bad snapshot cannot leave a
	// half-imported state behind.
	staged := New()
	for id, e := range entries {
		staged.entries[id] = e
	}
	for _, id := range ids {
		e := entries[id]
		if e.ParentID != "" {
			if _, ok := entries[e.ParentID]; ok {
				if err := staged.graph.LinkParent(id, e.ParentID); err != nil {
					return fmt.Errorf("entry %s: %w", id, err)
				}
			}
		}
		var srcs []string
		for _, src := range e.DerivedFrom {
			if _, ok := entries[src]; ok {
				srcs = append(srcs, src)
			}
		}
		if len(srcs) > 0 {
			if err := staged.graph.LinkDerivation(id, srcs); err != nil {
				return fmt.Errorf("entry %s: %w", id, err)
			}
		}
		if e.Searchable {
			staged.index.Add(id, e.IndexText())
		}
	}

	s.mu.Lock()
	s.entries = staged.entries
	s.index = staged.index
	s.graph = staged.graph
	s.mu.Unlock()

	logging.Store("imported %d entries", len(entries))
	return nil
}
