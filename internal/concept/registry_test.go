package concept

import (
	"testing"
)

func TestRegisterMergesOverlappingChains(t *testing.T) {
	r := NewRegistry(nil, nil)

	a := &Concept{Canonical: 616159, Identifiers: []int{555001, 616159}, Status: StatusRemapped}
	b := &Concept{Canonical: 616159, Identifiers: []int{555002, 616159}, Status: StatusRemapped}

	r.Register(a)
	merged := r.Register(b)

	if r.Len() != 1 {
		t.Fatalf("expected 1 concept after merge, got %d", r.Len())
	}
	for _, id := range []int{555001, 555002, 616159} {
		c, ok := r.Lookup(id)
		if !ok {
			t.Fatalf("identifier %d not owned by any concept", id)
		}
		if c != merged {
			t.Errorf("identifier %d owned by %v, want the merged concept", id, c)
		}
	}
	if len(merged.Identifiers) != 3 {
		t.Errorf("merged identifiers = %v, want union of both chains", merged.Identifiers)
	}
}

func TestRegisterPrefersActiveChain(t *testing.T) {
	r := NewRegistry(nil, nil)

	retired := &Concept{Canonical: 100, Identifiers: []int{100, 300}, Status: StatusRetired}
	active := &Concept{Canonical: 200, Identifiers: []int{200, 300}, Status: StatusActive}

	r.Register(retired)
	merged := r.Register(active)

	if merged.Canonical != 200 {
		t.Errorf("canonical = %d, want the active chain's 200", merged.Canonical)
	}
	if merged.Status != StatusRemapped {
		t.Errorf("status = %v, want remapped after absorbing a retired alias", merged.Status)
	}
	if r.TieBreaks() != 0 {
		t.Errorf("active-vs-retired merge is not ambiguous, got %d tie-breaks", r.TieBreaks())
	}
}

func TestRegisterAmbiguousMergeTieBreak(t *testing.T) {
	r := NewRegistry(nil, nil)

	a := &Concept{Canonical: 900, Identifiers: []int{300, 900}, Status: StatusActive}
	b := &Concept{Canonical: 700, Identifiers: []int{300, 700}, Status: StatusActive}

	r.Register(a)
	merged := r.Register(b)

	if merged.Canonical != 700 {
		t.Errorf("canonical = %d, want the smaller active canonical 700", merged.Canonical)
	}
	if r.TieBreaks() != 1 {
		t.Errorf("tie-breaks = %d, want 1", r.TieBreaks())
	}

	// Same chains registered in the opposite order break the same way.
	r2 := NewRegistry(nil, nil)
	r2.Register(&Concept{Canonical: 700, Identifiers: []int{300, 700}, Status: StatusActive})
	merged2 := r2.Register(&Concept{Canonical: 900, Identifiers: []int{300, 900}, Status: StatusActive})
	if merged2.Canonical != merged.Canonical {
		t.Errorf("tie-break not order-independent: %d vs %d", merged2.Canonical, merged.Canonical)
	}
}

func TestRegisterTransitiveMerge(t *testing.T) {
	r := NewRegistry(nil, nil)

	r.Register(&Concept{Canonical: 10, Identifiers: []int{1, 10}, Status: StatusRetired})
	r.Register(&Concept{Canonical: 20, Identifiers: []int{2, 20}, Status: StatusRetired})
	// Bridges both earlier chains.
	merged := r.Register(&Concept{Canonical: 30, Identifiers: []int{1, 2, 30}, Status: StatusActive})

	if r.Len() != 1 {
		t.Fatalf("expected 1 concept after transitive merge, got %d", r.Len())
	}
	if merged.Canonical != 30 {
		t.Errorf("canonical = %d, want the active chain's 30", merged.Canonical)
	}
	if len(merged.Identifiers) != 5 {
		t.Errorf("identifiers = %v, want union of all three chains", merged.Identifiers)
	}
}

func TestRegisterMergeWithSpareIdentifierCapacity(t *testing.T) {
	r := NewRegistry(nil, nil)

	r.Register(&Concept{Canonical: 5, Identifiers: []int{1, 3, 5}, Status: StatusRetired})
	r.Register(&Concept{Canonical: 9, Identifiers: []int{9}, Status: StatusActive})

	// The bridging chain carries spare slice capacity, so absorbing the first
	// chain grows its identifier slice in place mid-registration; every
	// identifier must still be visited.
	ids := make([]int, 0, 4)
	ids = append(ids, 3, 7, 9)
	merged := r.Register(&Concept{Canonical: 30, Identifiers: ids, Status: StatusActive})

	if r.Len() != 1 {
		t.Fatalf("expected 1 concept after bridging merge, got %d", r.Len())
	}
	for _, id := range []int{1, 3, 5, 7, 9, 30} {
		c, ok := r.Lookup(id)
		if !ok {
			t.Fatalf("identifier %d not owned by any concept", id)
		}
		if c != merged {
			t.Errorf("identifier %d owned by concept %d, want %d", id, c.Canonical, merged.Canonical)
		}
	}
	if len(merged.Identifiers) != 6 {
		t.Errorf("identifiers = %v, want union of all three chains", merged.Identifiers)
	}
}

func TestRegisterSameCanonicalNotAmbiguous(t *testing.T) {
	r := NewRegistry(nil, nil)

	// A retired alias and its active successor resolve to the same canonical;
	// merging them is routine, not a tie-break.
	r.Register(&Concept{Canonical: 616159, Identifiers: []int{555001, 616159}, Status: StatusRemapped})
	merged := r.Register(&Concept{Canonical: 616159, Identifiers: []int{616159}, Status: StatusActive})

	if r.Len() != 1 {
		t.Fatalf("expected 1 concept, got %d", r.Len())
	}
	if merged.Canonical != 616159 {
		t.Errorf("canonical = %d, want 616159", merged.Canonical)
	}
	if r.TieBreaks() != 0 {
		t.Errorf("agreeing canonicals counted as ambiguous: %d tie-breaks", r.TieBreaks())
	}
}

func TestLookupUnknownIdentifier(t *testing.T) {
	r := NewRegistry(nil, nil)
	if _, ok := r.Lookup(999); ok {
		t.Error("expected lookup miss on empty registry")
	}
}
