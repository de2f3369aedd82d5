package concept

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/observability/metrics"
)

// AmbiguousMergeError reports two overlapping chains that each carry a
// distinct active canonical identifier. It is logged and tie-broken, never
// returned as a failure.
type AmbiguousMergeError struct {
	CanonicalA int
	CanonicalB int
	Shared     int
}

func (e *AmbiguousMergeError) Error() string {
	return fmt.Sprintf("ambiguous merge: chains %d and %d both active, share identifier %d",
		e.CanonicalA, e.CanonicalB, e.Shared)
}

// Registry unifies independently resolved concepts by identifier, union-find
// style. Every identifier maps to exactly one concept; registering a concept
// whose chain overlaps an existing one merges the two.
//
// Invariant: owner maps every known identifier directly to the canonical
// identifier of its concept, and concepts is keyed by canonical identifier.
// Registration is safe for concurrent use during the harvest phase; Concepts
// must not be read until all registrations have completed.
type Registry struct {
	mu        sync.Mutex
	owner     map[int]int      // identifier -> canonical of owning concept
	concepts  map[int]*Concept // canonical -> merged concept
	tieBreaks int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		owner:    make(map[int]int),
		concepts: make(map[int]*Concept),
		logger:   logger,
		metrics:  m,
	}
}

// Register adds a resolved concept, merging it with every existing concept
// that shares an identifier. It returns the concept that now owns the chain.
func (r *Registry) Register(c *Concept) *Concept {
	r.mu.Lock()
	defer r.mu.Unlock()

	// merge mutates the winner's identifier slice in place, which may be
	// c's own; iterate over a snapshot so no identifier is skipped.
	ids := append([]int(nil), c.Identifiers...)

	merged := c
	for _, id := range ids {
		canonical, ok := r.owner[id]
		if !ok {
			continue
		}
		existing := r.concepts[canonical]
		if existing == nil || existing == merged {
			continue
		}
		delete(r.concepts, existing.Canonical)
		delete(r.concepts, merged.Canonical)
		merged = r.merge(existing, merged, id)
	}

	r.concepts[merged.Canonical] = merged
	for _, id := range merged.Identifiers {
		r.owner[id] = merged.Canonical
	}
	return merged
}

// Lookup returns the concept owning the identifier, if any.
func (r *Registry) Lookup(rxcui int) (*Concept, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical, ok := r.owner[rxcui]
	if !ok {
		return nil, false
	}
	c, ok := r.concepts[canonical]
	return c, ok
}

// Concepts returns every distinct concept, ordered by canonical identifier.
func (r *Registry) Concepts() []*Concept {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Concept, 0, len(r.concepts))
	for _, c := range r.concepts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Canonical < out[j].Canonical })
	return out
}

// Len returns the number of distinct concepts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.concepts)
}

// TieBreaks returns the number of ambiguous merges resolved so far.
func (r *Registry) TieBreaks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tieBreaks
}

// merge unifies two concepts into the winner of the deterministic tie-break:
// prefer the chain whose canonical identifier is active; if both are active
// (ambiguous), the smaller active canonical wins; if neither, the smaller
// canonical wins. Every ambiguous case is logged for audit.
func (r *Registry) merge(a, b *Concept, shared int) *Concept {
	winner, loser := a, b
	aActive := a.Status == StatusActive || a.Status == StatusRemapped
	bActive := b.Status == StatusActive || b.Status == StatusRemapped

	switch {
	case aActive && bActive:
		if b.Canonical < a.Canonical {
			winner, loser = b, a
		}
		// Two chains agreeing on the canonical identifier are the ordinary
		// retired-alias case, not a conflict; only genuine disagreements are
		// audited.
		if a.Canonical != b.Canonical {
			ambErr := &AmbiguousMergeError{CanonicalA: a.Canonical, CanonicalB: b.Canonical, Shared: shared}
			r.tieBreaks++
			if r.metrics != nil {
				r.metrics.MergeTieBreaks.Inc()
			}
			r.logger.Warn("merge tie-break",
				zap.Error(ambErr),
				zap.Int("winner", winner.Canonical))
		}
	case bActive:
		winner, loser = b, a
	case !aActive && !bActive:
		if b.Canonical < a.Canonical {
			winner, loser = b, a
		}
	}

	for _, id := range loser.Identifiers {
		winner.addIdentifier(id)
	}
	if winner.Status == StatusActive && len(winner.Identifiers) > 1 {
		winner.Status = StatusRemapped
	}
	if r.metrics != nil {
		r.metrics.ConceptMerges.Inc()
	}
	r.logger.Debug("merged concept chains",
		zap.Int("canonical", winner.Canonical),
		zap.Int("absorbed", loser.Canonical),
		zap.Int("shared", shared))
	return winner
}
