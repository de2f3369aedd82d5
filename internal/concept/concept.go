// Package concept reconciles historical RXCUI chains into canonical drug
// concepts. Resolution walks remap links to a fixed point; the Registry then
// unifies chains that overlap, so every identifier belongs to exactly one
// concept no matter which seed discovered it first.
package concept

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clinformatics/rxmeta/internal/rxnav"
)

// Status classifies a concept by the state of its canonical identifier.
type Status int

const (
	StatusActive Status = iota
	// StatusRemapped marks an active concept reached through at least one
	// retired alias.
	StatusRemapped
	StatusRetired
	StatusNeverActive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRemapped:
		return "remapped"
	case StatusRetired:
		return "retired"
	case StatusNeverActive:
		return "never active"
	default:
		return "unknown"
	}
}

// Concept is one canonical drug-orderable entity together with every
// historical identifier that ever named it.
type Concept struct {
	Canonical   int
	Identifiers []int // sorted, always contains Canonical
	Name        string
	RawName     string
	TTY         string
	Category    rxnav.Category
	Status      Status
	// SCDRxcui is the generic counterpart for branded concepts; 0 when none.
	SCDRxcui int

	Ingredients      []string // alphabetized, case-insensitive
	IngredientRxcuis []int
}

// HasIdentifier reports whether rxcui is in the concept's historical set.
func (c *Concept) HasIdentifier(rxcui int) bool {
	for _, id := range c.Identifiers {
		if id == rxcui {
			return true
		}
	}
	return false
}

func (c *Concept) addIdentifier(rxcui int) {
	if c.HasIdentifier(rxcui) {
		return
	}
	c.Identifiers = append(c.Identifiers, rxcui)
	sort.Ints(c.Identifiers)
}

// SortKey returns the sibling ordering key: the alphabetized ingredient
// tuple, lowercased. Concepts with no known ingredients sort by name.
func (c *Concept) SortKey() string {
	if len(c.Ingredients) == 0 {
		return strings.ToLower(c.RawName)
	}
	parts := make([]string, len(c.Ingredients))
	for i, ing := range c.Ingredients {
		parts[i] = strings.ToLower(ing)
	}
	return strings.Join(parts, " / ")
}

func (c *Concept) String() string {
	return fmt.Sprintf("concept %d (%s, %s)", c.Canonical, c.TTY, c.Status)
}
