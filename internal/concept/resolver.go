package concept

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/observability/metrics"
	"github.com/clinformatics/rxmeta/internal/rxnav"
)

// ErrUnknownConcept reports a seed identifier with no resolvable record at
// all. Callers skip the identifier with a logged warning; it never aborts a
// run.
var ErrUnknownConcept = errors.New("unknown concept")

// Source is the remote surface the resolver needs.
type Source interface {
	HistoryConcept(ctx context.Context, rxcui int) (*rxnav.HistoryConcept, error)
	AllRelated(ctx context.Context, rxcui int) ([]rxnav.RelatedConcept, error)
}

// Resolver discovers the full historical identifier chain for a seed
// identifier and derives the canonical concept attributes from it.
type Resolver struct {
	source  Source
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResolver creates a Resolver. m may be nil.
func NewResolver(source Source, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, logger: logger, metrics: m}
}

// Resolve walks remap links from the seed to a fixed point and builds the
// concept for the discovered chain. A seed the service has never heard of
// returns ErrUnknownConcept.
func (r *Resolver) Resolve(ctx context.Context, seed int) (*Concept, error) {
	records := make(map[int]*rxnav.HistoryConcept)
	frontier := []int{seed}

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if _, seen := records[id]; seen {
			continue
		}

		rec, err := r.source.HistoryConcept(ctx, id)
		if err != nil {
			if errors.Is(err, rxnav.ErrNotFound) {
				if id == seed {
					return nil, fmt.Errorf("rxcui %d: %w", seed, ErrUnknownConcept)
				}
				// A dangling remap link; keep what we have.
				r.logger.Warn("remap target has no history record",
					zap.Int("seed", seed),
					zap.Int("rxcui", id))
				continue
			}
			return nil, err
		}
		records[id] = rec

		if rec.CurrentRxcui != 0 {
			if _, seen := records[rec.CurrentRxcui]; !seen {
				frontier = append(frontier, rec.CurrentRxcui)
			}
		}
	}

	canonical := canonicalRecord(records)
	c := &Concept{
		Canonical: canonical.Rxcui,
		RawName:   canonical.Name,
		Name:      displayName(canonical),
		TTY:       canonical.TTY,
		Category:  rxnav.CategoryForTTY(canonical.TTY),
		SCDRxcui:  canonical.SCDRxcui,
	}
	for id := range records {
		c.addIdentifier(id)
	}
	c.Status = chainStatus(canonical, len(c.Identifiers))

	if err := r.deriveIngredients(ctx, c, canonical); err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ConceptsResolved.Inc()
	}
	return c, nil
}

// canonicalRecord picks the chain's canonical identifier: the active record
// if any exists (smallest RXCUI when more than one claims to be current),
// else the most recently ended record.
func canonicalRecord(records map[int]*rxnav.HistoryConcept) *rxnav.HistoryConcept {
	var active, latest *rxnav.HistoryConcept
	for _, rec := range records {
		if isActive(rec) {
			if active == nil || rec.Rxcui < active.Rxcui {
				active = rec
			}
			continue
		}
		if latest == nil || moreRecent(rec, latest) {
			latest = rec
		}
	}
	if active != nil {
		return active
	}
	return latest
}

func isActive(rec *rxnav.HistoryConcept) bool {
	return rec.IsCurrent || strings.EqualFold(rec.Status, "Active")
}

// moreRecent compares retirement dates in the service's MMYYYY form; the
// later end date wins, ties go to the smaller identifier.
func moreRecent(a, b *rxnav.HistoryConcept) bool {
	ka, kb := endDateKey(a.EndDate), endDateKey(b.EndDate)
	if ka != kb {
		return ka > kb
	}
	return a.Rxcui < b.Rxcui
}

func endDateKey(d string) string {
	// MMYYYY (or MYYYY) -> YYYYMM for comparison.
	switch len(d) {
	case 5:
		return d[1:] + "0" + d[:1]
	case 6:
		return d[2:] + d[:2]
	default:
		return d
	}
}

func chainStatus(canonical *rxnav.HistoryConcept, chainLen int) Status {
	switch {
	case isActive(canonical) && chainLen > 1:
		return StatusRemapped
	case isActive(canonical):
		return StatusActive
	case strings.EqualFold(canonical.Status, "Never Active"):
		return StatusNeverActive
	default:
		return StatusRetired
	}
}

// displayName decorates the raw name for non-active concepts, so retired
// codes remain recognizable in the emitted hierarchy.
func displayName(rec *rxnav.HistoryConcept) string {
	switch {
	case strings.EqualFold(rec.Status, "Retired"):
		return fmt.Sprintf("(retired %s) %s", formatHistDate(rec.EndDate), rec.Name)
	case strings.EqualFold(rec.Status, "Never Active"):
		return fmt.Sprintf("(never active) %s", rec.Name)
	default:
		return rec.Name
	}
}

// formatHistDate converts the service's date form to YYYY-MM:
// "22015" -> "2015-02", "102015" -> "2015-10". Unknown forms pass through.
func formatHistDate(d string) string {
	switch len(d) {
	case 5:
		return d[1:] + "-0" + d[:1]
	case 6:
		return d[2:] + "-" + d[:2]
	default:
		return d
	}
}

// deriveIngredients fills the concept's ingredient tuple. Precedence: the
// history record's basis-of-strength substances, then related IN/PIN
// concepts, then parsing the drug name itself. Ingredient-class concepts use
// their own name(s).
func (r *Resolver) deriveIngredients(ctx context.Context, c *Concept, canonical *rxnav.HistoryConcept) error {
	if c.Category == rxnav.CategoryIngredient {
		for _, name := range strings.Split(canonical.Name, " / ") {
			c.Ingredients = append(c.Ingredients, strings.TrimSpace(name))
		}
		c.IngredientRxcuis = []int{c.Canonical}
		normalizeIngredients(c)
		return nil
	}
	if c.Category != rxnav.CategoryDrug {
		return nil
	}

	for _, boss := range canonical.Bosses {
		name, rxcui := boss.BaseName, boss.BaseRxcui
		if name == "" {
			name, rxcui = boss.Name, boss.Rxcui
		}
		if name != "" {
			c.Ingredients = append(c.Ingredients, name)
			if rxcui != 0 {
				c.IngredientRxcuis = append(c.IngredientRxcuis, rxcui)
			}
		}
	}

	if len(c.Ingredients) == 0 {
		related, err := r.source.AllRelated(ctx, c.Canonical)
		if err != nil {
			return err
		}
		for _, rel := range related {
			if rel.TTY == "IN" || rel.TTY == "PIN" {
				c.Ingredients = append(c.Ingredients, rel.Name)
				c.IngredientRxcuis = append(c.IngredientRxcuis, rel.Rxcui)
			}
		}
	}

	if len(c.Ingredients) == 0 {
		c.Ingredients = ParseIngredientNames(c.TTY, c.RawName)
		if len(c.Ingredients) > 0 {
			r.logger.Debug("ingredients recovered by name parsing",
				zap.Int("rxcui", c.Canonical),
				zap.Strings("ingredients", c.Ingredients))
		}
	}

	normalizeIngredients(c)
	return nil
}

// normalizeIngredients dedupes and alphabetizes the tuple case-insensitively,
// so combination drugs sort identically however the service ordered them.
func normalizeIngredients(c *Concept) {
	seen := make(map[string]bool, len(c.Ingredients))
	out := c.Ingredients[:0]
	for _, ing := range c.Ingredients {
		key := strings.ToLower(strings.TrimSpace(ing))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(ing))
	}
	c.Ingredients = out
	sort.Slice(c.Ingredients, func(i, j int) bool {
		return strings.ToLower(c.Ingredients[i]) < strings.ToLower(c.Ingredients[j])
	})
	sort.Ints(c.IngredientRxcuis)
}
