package graph

import (
	"errors"
	"reflect"
	"testing"
)

func TestLinkParent_RejectsCycles(t *testing.T) {
	g := New()

	if err := g.LinkParent("b", "a"); err != nil {
		t.Fatalf("LinkParent failed: %v", err)
	}
	if err := g.LinkParent("c", "b"); err != nil {
		t.Fatalf("LinkParent failed: %v", err)
	}

	// a -> b -> c exists; closing the loop must fail.
	err := g.LinkParent("a", "c")
	if err == nil {
		t.Fatal("expected cycle rejection")
	}
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if cerr.Relation != "parent" {
		t.Errorf("expected parent relation in error, got %q", cerr.Relation)
	}

	// Self-parenting is the degenerate cycle.
	if err := g.LinkParent("x", "x"); err == nil {
		t.Error("expected self-link rejection")
	}

	// The rejected links must leave no edge behind.
	if _, ok := g.Parent("a"); ok {
		t.Error("rejected link left a parent edge")
	}
}

func TestLinkDerivation_RejectsCycles(t *testing.T) {
	g := New()

	if err := g.LinkDerivation("b", []string{"a"}); err != nil {
		t.Fatalf("LinkDerivation failed: %v", err)
	}
	if err := g.LinkDerivation("c", []string{"b"}); err != nil {
		t.Fatalf("LinkDerivation failed: %v", err)
	}

	// c is transitively derived from a; a derived from c is a cycle.
	if err := g.LinkDerivation("a", []string{"c"}); err == nil {
		t.Fatal("expected derivation cycle rejection")
	}
	if err := g.LinkDerivation("x", []string{"x"}); err == nil {
		t.Error("expected self-derivation rejection")
	}

	// All-or-nothing: one bad source rejects the whole call.
	if err := g.LinkDerivation("a", []string{"fresh", "c"}); err == nil {
		t.Fatal("expected rejection when any source would cycle")
	}
	if got := g.DerivedEntries("fresh"); got != nil {
		t.Errorf("rejected call committed partial edges: %v", got)
	}
}

func TestParentageQueries(t *testing.T) {
	g := New()
	// a -> b -> c, a -> d
	mustLinkParent(t, g, "b", "a")
	mustLinkParent(t, g, "c", "b")
	mustLinkParent(t, g, "d", "a")

	if p, ok := g.Parent("b"); !ok || p != "a" {
		t.Errorf("Parent(b) = %q, %v", p, ok)
	}
	if _, ok := g.Parent("a"); ok {
		t.Error("root must have no parent")
	}

	if got := g.Children("a"); !reflect.DeepEqual(got, []string{"b", "d"}) {
		t.Errorf("Children(a) = %v", got)
	}
	if got := g.Ancestors("c"); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("Ancestors(c) = %v, want [b a]", got)
	}
	if got := g.Descendants("a"); !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("Descendants(a) = %v, want depth-first [b c d]", got)
	}
}

func TestDerivationQueries(t *testing.T) {
	g := New()
	// c derived from a and b; d derived from c.
	mustLinkDerivation(t, g, "c", "a", "b")
	mustLinkDerivation(t, g, "d", "c")

	if got := g.SourceEntries("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("SourceEntries(c) = %v", got)
	}
	if got := g.DerivedEntries("a"); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("DerivedEntries(a) = %v", got)
	}
	if got := g.DerivationChain("d"); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("DerivationChain(d) = %v", got)
	}
	if got := g.ImpactScope("a"); !reflect.DeepEqual(got, []string{"c", "d"}) {
		t.Errorf("ImpactScope(a) = %v", got)
	}
}

func TestDescendants_IncludesDerived(t *testing.T) {
	g := New()
	mustLinkParent(t, g, "b", "a")
	mustLinkDerivation(t, g, "c", "a", "b")

	got := g.Descendants("a")
	if !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("Descendants(a) = %v, want [b c]", got)
	}
}

func TestUnlink_OrphansChildren(t *testing.T) {
	g := New()
	mustLinkParent(t, g, "b", "a")
	mustLinkParent(t, g, "c", "b")
	mustLinkDerivation(t, g, "d", "b")

	g.Unlink("b")

	// b's child is orphaned, not deleted: c simply has no parent now.
	if _, ok := g.Parent("c"); ok {
		t.Error("orphaned child still has a parent")
	}
	if got := g.Children("a"); got != nil {
		t.Errorf("removed node still a child of a: %v", got)
	}
	if got := g.SourceEntries("d"); got != nil {
		t.Errorf("removed node still a derivation source: %v", got)
	}

	// After orphaning, new links to the survivors still work.
	if err := g.LinkParent("c", "a"); err != nil {
		t.Fatalf("relinking orphan failed: %v", err)
	}
}

func TestUnlinkOwned_KeepsIncomingEdges(t *testing.T) {
	g := New()
	mustLinkParent(t, g, "b", "a")
	mustLinkParent(t, g, "c", "b")
	mustLinkDerivation(t, g, "b", "x")
	mustLinkDerivation(t, g, "d", "b")

	g.UnlinkOwned("b")

	// b's own references are gone.
	if _, ok := g.Parent("b"); ok {
		t.Error("owned parent edge survived")
	}
	if got := g.SourceEntries("b"); got != nil {
		t.Errorf("owned derivation sources survived: %v", got)
	}

	// Edges pointing at b are untouched.
	if p, ok := g.Parent("c"); !ok || p != "b" {
		t.Error("child's parent edge was severed")
	}
	if got := g.DerivedEntries("b"); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("DerivedEntries(b) = %v, want [d]", got)
	}
}

func mustLinkParent(t *testing.T, g *Graph, child, parent string) {
	t.Helper()
	if err := g.LinkParent(child, parent); err != nil {
		t.Fatalf("LinkParent(%s, %s) failed: %v", child, parent, err)
	}
}

func mustLinkDerivation(t *testing.T, g *Graph, derived string, sources ...string) {
	t.Helper()
	if err := g.LinkDerivation(derived, sources); err != nil {
		t.Fatalf("LinkDerivation(%s, %v) failed: %v", derived, sources, err)
	}
}

func BenchmarkDescendants(b *testing.B) {
	g := New()
	// A 3-wide tree, 3 levels deep under "root".
	ids := []string{"root"}
	for level := 0; level < 3; level++ {
		var next []string
		for _, p := range ids {
			for i := 0; i < 3; i++ {
				child := p + string(rune('a'+i))
				if err := g.LinkParent(child, p); err != nil {
					b.Fatal(err)
				}
				next = append(next, child)
			}
		}
		ids = next
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = g.Descendants("root")
	}
}
