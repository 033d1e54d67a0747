// Package budget produces the bounded views of the context store that are
// actually handed to an LLM call. The working view is summary-only and
// unbounded; the implementation view carries full content and is subject to a
// hard entry-count limit.
package budget

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ctxengine/internal/entry"
	"ctxengine/internal/logging"
	"ctxengine/internal/store"
)

// DefaultEntryLimit is the hard bound on how many entries (requested plus
// resolved dependencies) may be materialized with full content for a single
// call. The resolved set must stay strictly below it.
const DefaultEntryLimit = 200

// EntryBoundsError reports an implementation-context request whose resolved
// closure reached the entry limit.
type EntryBoundsError struct {
	Count int
	Limit int
}

func (e *EntryBoundsError) Error() string {
	return fmt.Sprintf("context request resolves to %d entries, limit is %d", e.Count, e.Limit)
}

// WorkingEntry is the summary-only, metadata-only view of one entry. It never
// carries full content, which is why the working view needs no bound.
type WorkingEntry struct {
	ID         string
	Type       entry.Type
	Source     string
	Summary    string
	CreatedAt  time.Time
	References []string
}

// Allocation is one outstanding implementation-context grant. Entries carry
// full content; the allocation is tracked until released.
type Allocation struct {
	ContextID   string
	RequestedAt time.Time
	EntryIDs    []string // Resolved closure, sorted
	Entries     []*entry.Entry
}

// AllocationInfo describes an outstanding allocation for leak reporting.
type AllocationInfo struct {
	ContextID   string
	RequestedAt time.Time
	EntryCount  int
}

// Allocator resolves entry sets against a store and tracks outstanding
// implementation-context allocations.
type Allocator struct {
	store *store.Store
	limit int

	mu          sync.Mutex
	outstanding map[string]*Allocation
}

// New creates an allocator over the given store. limit <= 0 falls back to
// DefaultEntryLimit.
func New(s *store.Store, limit int) *Allocator {
	if limit <= 0 {
		limit = DefaultEntryLimit
	}
	return &Allocator{
		store:       s,
		limit:       limit,
		outstanding: make(map[string]*Allocation),
	}
}

// WorkingContext returns the summary-only view of every live entry. Always
// legal regardless of store size.
func (a *Allocator) WorkingContext() []WorkingEntry {
	entries := a.store.GetAll(false)
	out := make([]WorkingEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, WorkingEntry{
			ID:         e.ID,
			Type:       e.Type,
			Source:     e.Source,
			Summary:    e.Summary,
			CreatedAt:  e.CreatedAt,
			References: append([]string(nil), e.References...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	logging.Budget("working context: %d entries", len(out))
	return out
}

// RequestContext resolves the requested ids plus their transitive parent and
// derivation dependencies into a full-content view. The resolved set must
// stay strictly below the entry limit or the call fails before any part of
// the context is materialized. Requesting an id that is missing or expired is
// a caller mistake and returns *store.NotFoundError.
func (a *Allocator) RequestContext(entryIDs []string) (*Allocation, error) {
	timer := logging.StartTimer(logging.CategoryBudget, "RequestContext")
	defer timer.Stop()

	resolved := make(map[string]*entry.Entry)
	var queue []string
	for _, id := range entryIDs {
		e, ok := a.store.Get(id)
		if !ok {
			return nil, &store.NotFoundError{ID: id}
		}
		if _, seen := resolved[id]; !seen {
			resolved[id] = e
			queue = append(queue, id)
		}
	}

	// Expand the closure breadth-first over parent and derivation refs.
	// Dangling or expired dependencies are skipped, matching the orphaning
	// removal policy.
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		e := resolved[id]

		deps := make([]string, 0, 1+len(e.DerivedFrom))
		if e.ParentID != "" {
			deps = append(deps, e.ParentID)
		}
		deps = append(deps, e.DerivedFrom...)

		for _, dep := range deps {
			if _, seen := resolved[dep]; seen {
				continue
			}
			depEntry, ok := a.store.Get(dep)
			if !ok {
				continue
			}
			resolved[dep] = depEntry
			queue = append(queue, dep)
		}
	}

	// Bounds check happens before any allocation state exists.
	if len(resolved) >= a.limit {
		logging.Budget("request rejected: %d resolved entries >= limit %d", len(resolved), a.limit)
		return nil, &EntryBoundsError{Count: len(resolved), Limit: a.limit}
	}

	ids := make([]string, 0, len(resolved))
	for id := range resolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	alloc := &Allocation{
		ContextID:   "alloc_" + uuid.NewString(),
		RequestedAt: time.Now(),
		EntryIDs:    ids,
	}
	for _, id := range ids {
		alloc.Entries = append(alloc.Entries, resolved[id])
	}

	a.mu.Lock()
	a.outstanding[alloc.ContextID] = alloc
	a.mu.Unlock()

	logging.Budget("allocated context %s: %d requested, %d resolved", alloc.ContextID, len(entryIDs), len(ids))
	return alloc, nil
}

// ReleaseContext retires an allocation handle. Underlying entries are never
// deleted; only the bookkeeping is dropped. Returns false for an unknown or
// already-released context id. Other allocations are unaffected.
func (a *Allocator) ReleaseContext(contextID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.outstanding[contextID]; !ok {
		return false
	}
	delete(a.outstanding, contextID)
	logging.Budget("released context %s", contextID)
	return true
}

// Outstanding reports unreleased allocations, oldest first. A long-lived
// non-empty result is the leak signal callers watch for.
func (a *Allocator) Outstanding() []AllocationInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AllocationInfo, 0, len(a.outstanding))
	for _, alloc := range a.outstanding {
		out = append(out, AllocationInfo{
			ContextID:   alloc.ContextID,
			RequestedAt: alloc.RequestedAt,
			EntryCount:  len(alloc.Entries),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}
