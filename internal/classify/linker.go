package classify

import (
	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/concept"
)

// Membership is one class the linker attached a concept to.
type Membership struct {
	Node   *Node
	Legacy bool
}

// Linker resolves a concept's class memberships against a primary taxonomy
// with a legacy fallback. The legacy taxonomy may be nil.
type Linker struct {
	primary *Taxonomy
	legacy  *Taxonomy
	logger  *zap.Logger
}

// NewLinker creates a Linker over loaded taxonomies.
func NewLinker(primary, legacy *Taxonomy, logger *zap.Logger) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{primary: primary, legacy: legacy, logger: logger}
}

// Classify returns every class the concept belongs to. The primary taxonomy
// is consulted for the canonical identifier; each membership yields one
// entry. When the primary has none, the legacy taxonomy is tried for every
// historical identifier in ascending order and the first identifier with any
// match wins; if that identifier matches several legacy classes, the lowest
// class code is kept and the choice is logged. An empty result means the
// concept goes to the unclassified bucket — it is never dropped.
func (l *Linker) Classify(c *concept.Concept) []Membership {
	var memberships []Membership
	for _, classID := range l.primary.MemberClasses(c.Canonical) {
		if n, ok := l.primary.NodeByID(classID); ok {
			memberships = append(memberships, Membership{Node: n})
		}
	}
	if len(memberships) > 0 {
		return memberships
	}

	if l.legacy == nil {
		return nil
	}
	for _, id := range c.Identifiers {
		classIDs := l.legacy.MemberClasses(id)
		if len(classIDs) == 0 {
			continue
		}
		// MemberClasses is sorted, so classIDs[0] is the lowest class code.
		if len(classIDs) > 1 {
			l.logger.Warn("multiple legacy classes for identifier, keeping lowest class code",
				zap.Int("rxcui", id),
				zap.Strings("classes", classIDs),
				zap.String("kept", classIDs[0]))
		}
		if n, ok := l.legacy.NodeByID(classIDs[0]); ok {
			return []Membership{{Node: n, Legacy: true}}
		}
	}
	return nil
}
