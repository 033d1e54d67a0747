// Package graph maintains two independent directed acyclic graphs over entry
// ids: parent/child hierarchy and derivation lineage. Edges reference ids,
// never entry values; the owning store's map is the arena the ids point into.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"ctxengine/internal/logging"
)

// CycleError reports a link that would make an entry its own ancestor.
type CycleError struct {
	Relation string // "parent" or "derivation"
	FromID   string
	ToID     string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s link %s -> %s would introduce a cycle", e.Relation, e.FromID, e.ToID)
}

// Graph holds the parent and derivation DAGs. Safe for concurrent use.
type Graph struct {
	mu sync.RWMutex

	// Parent hierarchy: each child has at most one parent.
	parent   map[string]string
	children map[string]map[string]struct{}

	// Derivation lineage: each derived entry may have many sources.
	sources map[string]map[string]struct{}
	derived map[string]map[string]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		parent:   make(map[string]string),
		children: make(map[string]map[string]struct{}),
		sources:  make(map[string]map[string]struct{}),
		derived:  make(map[string]map[string]struct{}),
	}
}

// =============================================================================
// LINKING
// =============================================================================

// LinkParent records childID's parent. The ancestor chain of parentID is
// walked first; if childID appears in it the link is rejected.
func (g *Graph) LinkParent(childID, parentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if childID == parentID {
		return &CycleError{Relation: "parent", FromID: childID, ToID: parentID}
	}

	// Walk up from the prospective parent looking for the child.
	for cur := parentID; cur != ""; {
		next, ok := g.parent[cur]
		if !ok {
			break
		}
		if next == childID {
			return &CycleError{Relation: "parent", FromID: childID, ToID: parentID}
		}
		cur = next
	}

	// Re-linking replaces the previous parent edge.
	if prev, ok := g.parent[childID]; ok {
		delete(g.children[prev], childID)
	}
	g.parent[childID] = parentID
	if g.children[parentID] == nil {
		g.children[parentID] = make(map[string]struct{})
	}
	g.children[parentID][childID] = struct{}{}

	logging.Graph("linked parent: %s -> %s", childID, parentID)
	return nil
}

// LinkDerivation records that derivedID was derived from each source. Every
// source's transitive derivation ancestry is checked before any edge is
// committed, so a rejected link leaves no partial state.
func (g *Graph) LinkDerivation(derivedID string, sourceIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, src := range sourceIDs {
		if src == derivedID {
			return &CycleError{Relation: "derivation", FromID: derivedID, ToID: src}
		}
		if g.derivationAncestorLocked(src, derivedID) {
			return &CycleError{Relation: "derivation", FromID: derivedID, ToID: src}
		}
	}

	for _, src := range sourceIDs {
		if g.sources[derivedID] == nil {
			g.sources[derivedID] = make(map[string]struct{})
		}
		g.sources[derivedID][src] = struct{}{}
		if g.derived[src] == nil {
			g.derived[src] = make(map[string]struct{})
		}
		g.derived[src][derivedID] = struct{}{}
	}

	if len(sourceIDs) > 0 {
		logging.Graph("linked derivation: %s <- %v", derivedID, sourceIDs)
	}
	return nil
}

// derivationAncestorLocked reports whether target appears in the transitive
// derivation sources of start.
func (g *Graph) derivationAncestorLocked(start, target string) bool {
	seen := make(map[string]struct{})
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		for src := range g.sources[cur] {
			stack = append(stack, src)
		}
	}
	return false
}

// WouldCycleParent reports whether linking childID under parentID would make
// childID its own ancestor. Read-only: callers that must stage several links
// atomically check first and link after.
func (g *Graph) WouldCycleParent(childID, parentID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if childID == parentID {
		return true
	}
	seen := make(map[string]struct{})
	for cur := parentID; ; {
		next, ok := g.parent[cur]
		if !ok {
			return false
		}
		if next == childID {
			return true
		}
		if _, dup := seen[next]; dup {
			return false
		}
		seen[next] = struct{}{}
		cur = next
	}
}

// WouldCycleDerivation reports whether deriving derivedID from sourceID would
// make derivedID transitively derived from itself.
func (g *Graph) WouldCycleDerivation(derivedID, sourceID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if derivedID == sourceID {
		return true
	}
	return g.derivationAncestorLocked(sourceID, derivedID)
}

// UnlinkOwned removes only the edges id itself declares: its parent link and
// its derivation sources. Edges other entries hold toward id (children,
// derived entries) are untouched. Used when an entry is updated in place.
func (g *Graph) UnlinkOwned(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.parent[id]; ok {
		delete(g.children[p], id)
		delete(g.parent, id)
	}
	for src := range g.sources[id] {
		delete(g.derived[src], id)
	}
	delete(g.sources, id)

	logging.Graph("unlinked owned edges of %s", id)
}

// Unlink removes every edge touching id. Children are orphaned, not deleted:
// cascade deletion on a shared store is a data-loss risk, so dangling
// references are the documented policy.
func (g *Graph) Unlink(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.parent[id]; ok {
		delete(g.children[p], id)
		delete(g.parent, id)
	}
	for child := range g.children[id] {
		delete(g.parent, child)
	}
	delete(g.children, id)

	for src := range g.sources[id] {
		delete(g.derived[src], id)
	}
	delete(g.sources, id)
	for d := range g.derived[id] {
		delete(g.sources[d], id)
	}
	delete(g.derived, id)

	logging.Graph("unlinked %s", id)
}

// =============================================================================
// PARENTAGE QUERIES
// =============================================================================

// Parent returns id's parent, if any.
func (g *Graph) Parent(id string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.parent[id]
	return p, ok
}

// Children returns id's direct children in sorted order.
func (g *Graph) Children(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.children[id])
}

// Ancestors returns the full parent chain of id, nearest first.
func (g *Graph) Ancestors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var chain []string
	seen := map[string]struct{}{id: {}}
	for cur := id; ; {
		p, ok := g.parent[cur]
		if !ok {
			break
		}
		// Guard against corruption: the link-time check makes cycles
		// unreachable, but a walk must still terminate.
		if _, dup := seen[p]; dup {
			break
		}
		seen[p] = struct{}{}
		chain = append(chain, p)
		cur = p
	}
	return chain
}

// Descendants returns the full subtree below id in depth-first order. The
// subtree spans both edge kinds: direct children and entries derived from id,
// so the result is everything that exists downstream of id.
func (g *Graph) Descendants(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	seen := map[string]struct{}{id: {}}
	var walk func(string)
	walk = func(cur string) {
		below := make(map[string]struct{}, len(g.children[cur])+len(g.derived[cur]))
		for child := range g.children[cur] {
			below[child] = struct{}{}
		}
		for d := range g.derived[cur] {
			below[d] = struct{}{}
		}
		for _, next := range sortedKeys(below) {
			if _, dup := seen[next]; dup {
				continue
			}
			seen[next] = struct{}{}
			out = append(out, next)
			walk(next)
		}
	}
	walk(id)
	return out
}

// =============================================================================
// DERIVATION QUERIES
// =============================================================================

// SourceEntries returns the direct derivation sources of id.
func (g *Graph) SourceEntries(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.sources[id])
}

// DerivedEntries returns the entries directly derived from id.
func (g *Graph) DerivedEntries(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.derived[id])
}

// DerivationChain returns the full transitive source set of id.
func (g *Graph) DerivationChain(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transitiveLocked(id, g.sources)
}

// ImpactScope returns the full transitive derived set of id: everything that
// would be affected if id changed.
func (g *Graph) ImpactScope(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.transitiveLocked(id, g.derived)
}

func (g *Graph) transitiveLocked(id string, edges map[string]map[string]struct{}) []string {
	var out []string
	seen := map[string]struct{}{id: {}}
	var walk func(string)
	walk = func(cur string) {
		for _, next := range sortedKeys(edges[cur]) {
			if _, dup := seen[next]; dup {
				continue
			}
			seen[next] = struct{}{}
			out = append(out, next)
			walk(next)
		}
	}
	walk(id)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
