// Package store implements the ContextStore: the single owned composition
// point over the entry map, the TF-IDF search index, and the relationship
// graph. All external interaction with context state goes through it.
package store

import (
	"sync"
	"time"

	"ctxengine/internal/entry"
	"ctxengine/internal/graph"
	"ctxengine/internal/index"
	"ctxengine/internal/logging"
)

// Store owns the id -> entry map plus one search index and one relationship
// graph. One writer mutates it; readers may run concurrently with each other
// but not with a write, which the RWMutex enforces.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry.Entry
	index   *index.SearchIndex
	graph   *graph.Graph
}

// SearchResult pairs a matched entry with its similarity score.
type SearchResult struct {
	Entry *entry.Entry
	Score float64
}

// Stats summarizes the live (non-expired) population of the store.
type Stats struct {
	Total  int
	ByType map[entry.Type]int
}

// New creates an empty context store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry.Entry),
		index:   index.New(),
		graph:   graph.New(),
	}
}

// =============================================================================
// MUTATION
// =============================================================================

// Add validates and inserts an entry, returning its id. An unset id and
// created_at are assigned here. Adding an existing id is an update: the old
// index and relationship state for that id is replaced. Validation and
// relationship errors leave the store untouched.
func (s *Store) Add(e *entry.Entry) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Add")
	defer timer.Stop()

	if e == nil {
		return "", &entry.ValidationError{Field: "entry", Message: "required"}
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = s.freshIDLocked()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	// Resolve every reference against the map and run cycle checks before
	// committing anything, so a rejected add leaves no partial state.
	if stored.ParentID != "" {
		if _, ok := s.entries[stored.ParentID]; !ok {
			return "", &RelationshipError{EntryID: stored.ID, RefID: stored.ParentID, Message: "parent_id does not resolve to a stored entry"}
		}
		if s.graph.WouldCycleParent(stored.ID, stored.ParentID) {
			return "", &RelationshipError{EntryID: stored.ID, RefID: stored.ParentID, Message: "parent link would introduce a cycle"}
		}
	}
	for _, src := range stored.DerivedFrom {
		if _, ok := s.entries[src]; !ok {
			return "", &RelationshipError{EntryID: stored.ID, RefID: src, Message: "derived_from does not resolve to a stored entry"}
		}
		if s.graph.WouldCycleDerivation(stored.ID, src) {
			return "", &RelationshipError{EntryID: stored.ID, RefID: src, Message: "derivation link would introduce a cycle"}
		}
	}

	// Update semantics: drop the old id's index state and the links it
	// declared. Links other entries hold toward it survive the update.
	if _, exists := s.entries[stored.ID]; exists {
		s.index.Remove(stored.ID)
		s.graph.UnlinkOwned(stored.ID)
		logging.StoreDebug("Add: overwriting existing entry %s", stored.ID)
	}

	s.entries[stored.ID] = stored
	if stored.ParentID != "" {
		if err := s.graph.LinkParent(stored.ID, stored.ParentID); err != nil {
			// Unreachable after the pre-checks above; keep the store
			// consistent regardless.
			delete(s.entries, stored.ID)
			return "", &RelationshipError{EntryID: stored.ID, RefID: stored.ParentID, Message: err.Error()}
		}
	}
	if len(stored.DerivedFrom) > 0 {
		if err := s.graph.LinkDerivation(stored.ID, stored.DerivedFrom); err != nil {
			s.graph.UnlinkOwned(stored.ID)
			delete(s.entries, stored.ID)
			return "", &RelationshipError{EntryID: stored.ID, RefID: "", Message: err.Error()}
		}
	}

	if stored.Searchable {
		s.index.Add(stored.ID, stored.IndexText())
	}

	logging.Store("added entry %s type=%s source=%s searchable=%v", stored.ID, stored.Type, stored.Source, stored.Searchable)
	return stored.ID, nil
}

// freshIDLocked generates an id not present in the map. Collisions over a
// 62^8 space are vanishingly rare but cheap to re-roll.
func (s *Store) freshIDLocked() string {
	for {
		id := entry.NewID()
		if _, taken := s.entries[id]; !taken {
			return id
		}
	}
}

// Remove deletes an entry from the map, the index, and the graph. Children
// and derived entries are orphaned, never cascade-deleted. Idempotent: a
// second call for the same id returns false.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	s.index.Remove(id)
	s.graph.Unlink(id)
	logging.Store("removed entry %s", id)
	return true
}

// Compress clears an entry's content one-way, keeping the summary, and
// re-indexes the entry under its summary so it remains searchable. Compressing
// an already-compressed entry is a no-op. A missing id is a caller mistake
// and returns *NotFoundError.
func (s *Store) Compress(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if e.Compressed {
		return nil
	}

	e.Compressed = true
	e.Content = nil
	if e.Searchable {
		s.index.Add(id, e.Summary)
	}

	logging.Store("compressed entry %s", id)
	return nil
}

// =============================================================================
// LOOKUP
// =============================================================================

// Get returns the entry for id, or false when it is missing or expired. An
// expired entry may still physically reside in the map until the sweeper
// runs, but it is invisible here.
func (s *Store) Get(id string) (*entry.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.IsExpired(time.Now()) {
		return nil, false
	}
	return e.Clone(), true
}

// Contains reports physical presence of id, independent of expiration. Used
// by integrity checks and the sweeper.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// GetAll returns all entries, excluding expired ones unless includeExpired is
// set. Order is unspecified.
func (s *Store) GetAll(includeExpired bool) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]*entry.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !includeExpired && e.IsExpired(now) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// GetByType returns entries of one type with the same expiration filter as
// GetAll.
func (s *Store) GetByType(t entry.Type, includeExpired bool) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*entry.Entry
	for _, e := range s.entries {
		if e.Type != t {
			continue
		}
		if !includeExpired && e.IsExpired(now) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// ExpiredIDs returns a snapshot of ids whose TTL has elapsed right now. The
// sweeper acts on this snapshot rather than iterating live state.
func (s *Store) ExpiredIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []string
	for id, e := range s.entries {
		if e.IsExpired(now) {
			out = append(out, id)
		}
	}
	return out
}

// Stats computes totals over non-expired entries, each counted exactly once.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	st := Stats{ByType: make(map[entry.Type]int)}
	for _, e := range s.entries {
		if e.IsExpired(now) {
			continue
		}
		st.Total++
		st.ByType[e.Type]++
	}
	return st
}

// =============================================================================
// SEARCH
// =============================================================================

// Search ranks entries against the query, dropping expired and non-searchable
// entries from the raw index results before applying limit. The effective
// result count may therefore be less than limit even when the index has more
// matches. minScore <= 0 disables the similarity floor. Never errors; no
// matches is an empty slice.
func (s *Store) Search(query string, limit int, minScore float64) []SearchResult {
	timer := logging.StartTimer(logging.CategoryStore, "Search")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	// No raw cap here: the expiration filter below must see every match
	// before the limit is applied.
	raw := s.index.Search(query, 0, minScore)
	now := time.Now()

	var out []SearchResult
	for _, r := range raw {
		e, ok := s.entries[r.ID]
		if !ok || !e.Searchable || e.IsExpired(now) {
			continue
		}
		out = append(out, SearchResult{Entry: e.Clone(), Score: r.Score})
		if limit > 0 && len(out) == limit {
			break
		}
	}

	logging.StoreDebug("search %q: %d raw hits, %d returned", query, len(raw), len(out))
	return out
}

// =============================================================================
// RELATIONSHIP QUERIES
// =============================================================================

// GetParent returns the parent entry of id, if the link exists and the parent
// still resides in the store (removal orphans children, so the reference may
// dangle).
func (s *Store) GetParent(id string) (*entry.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pid, ok := s.graph.Parent(id)
	if !ok {
		return nil, false
	}
	p, ok := s.entries[pid]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// GetChildren returns the direct children of id.
func (s *Store) GetChildren(id string) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.graph.Children(id))
}

// GetAncestors returns the full parent chain of id, nearest first.
func (s *Store) GetAncestors(id string) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.graph.Ancestors(id))
}

// GetDescendants returns the full subtree below id: children and derived
// entries, transitively, in depth-first order.
func (s *Store) GetDescendants(id string) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.graph.Descendants(id))
}

// GetSourceEntries returns the direct derivation sources of id.
func (s *Store) GetSourceEntries(id string) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.graph.SourceEntries(id))
}

// GetDerivedEntries returns the entries directly derived from id.
func (s *Store) GetDerivedEntries(id string) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.graph.DerivedEntries(id))
}

// GetDerivationChain returns the full transitive source set of id.
func (s *Store) GetDerivationChain(id string) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.graph.DerivationChain(id))
}

// GetImpactScope returns everything transitively derived from id.
func (s *Store) GetImpactScope(id string) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(s.graph.ImpactScope(id))
}

// resolveLocked maps graph ids to entry clones, skipping dangling references
// left behind by the orphaning removal policy.
func (s *Store) resolveLocked(ids []string) []*entry.Entry {
	var out []*entry.Entry
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}
