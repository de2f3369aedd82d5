package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/classify"
	"github.com/clinformatics/rxmeta/internal/concept"
	"github.com/clinformatics/rxmeta/internal/fetch"
	"github.com/clinformatics/rxmeta/internal/ndc"
	"github.com/clinformatics/rxmeta/internal/rxnav"
	"github.com/clinformatics/rxmeta/internal/tree"
)

// conceptNamer resolves a display name for an identifier the registry has not
// seen; in production this is the rxnav client, backed by the cache.
type conceptNamer interface {
	HistoryConcept(ctx context.Context, rxcui int) (*rxnav.HistoryConcept, error)
}

// builder places every resolved concept into the hierarchy: under its primary
// classes, under legacy classes as a fallback, or in the unclassified bucket.
type builder struct {
	settings  Settings
	assembler *tree.Assembler
	registry  *concept.Registry
	linker    *classify.Linker
	expander  *ndc.Expander
	namer     conceptNamer
	logger    *zap.Logger

	// usedIngredients tracks ingredient identifiers already placed as folder
	// nodes; leftovers go to the unclassified bucket.
	usedIngredients map[int]bool
}

func newBuilder(settings Settings, assembler *tree.Assembler, registry *concept.Registry,
	linker *classify.Linker, expander *ndc.Expander, namer conceptNamer, logger *zap.Logger) *builder {
	return &builder{
		settings:        settings,
		assembler:       assembler,
		registry:        registry,
		linker:          linker,
		expander:        expander,
		namer:           namer,
		logger:          logger,
		usedIngredients: make(map[int]bool),
	}
}

// build attaches every registry concept and finalizes the tree.
func (b *builder) build(ctx context.Context) (*tree.Node, error) {
	if b.settings.AddProvenance {
		if err := b.attachProvenance(); err != nil {
			return nil, err
		}
	}

	var unclassified []*concept.Concept
	for _, c := range b.registry.Concepts() {
		if c.Category != rxnav.CategoryDrug {
			continue
		}
		memberships := b.linker.Classify(b.anchorOf(c))
		if len(memberships) == 0 {
			unclassified = append(unclassified, c)
			continue
		}
		for _, m := range memberships {
			if err := b.attachUnderClass(ctx, m, c); err != nil {
				return nil, err
			}
		}
	}

	// Ingredient concepts never referenced by a placed drug still appear,
	// in the unclassified bucket.
	for _, c := range b.registry.Concepts() {
		if c.Category == rxnav.CategoryIngredient && !b.usedIngredients[c.Canonical] {
			unclassified = append(unclassified, c)
		}
	}
	for _, c := range unclassified {
		if err := b.attachUnclassified(ctx, c); err != nil {
			return nil, err
		}
	}

	return b.assembler.Finalize()
}

// anchorOf returns the concept whose class membership places c: branded drugs
// follow their generic counterpart, so they land as its siblings.
func (b *builder) anchorOf(c *concept.Concept) *concept.Concept {
	if c.SCDRxcui == 0 || c.SCDRxcui == c.Canonical {
		return c
	}
	if generic, ok := b.registry.Lookup(c.SCDRxcui); ok {
		return generic
	}
	return c
}

// attachUnderClass places the drug under one class membership: the class
// chain, then one folder per ingredient, then the drug, then its packages.
func (b *builder) attachUnderClass(ctx context.Context, m classify.Membership, c *concept.Concept) error {
	parent := b.assembler.Root()
	var err error
	for _, class := range m.Node.Chain() {
		parent, err = b.assembler.Attach(parent, classNode(class))
		if err != nil {
			return err
		}
	}

	ingredients := c.IngredientRxcuis
	if len(ingredients) == 0 {
		if anchor := b.anchorOf(c); anchor != c {
			ingredients = anchor.IngredientRxcuis
		}
	}
	if len(ingredients) == 0 {
		// No ingredient folder to hang the drug on; it sits directly under
		// the leaf class.
		return b.attachDrug(ctx, parent, c, m.Legacy)
	}

	for _, rxcui := range ingredients {
		ing, err := b.assembler.Attach(parent, b.ingredientNode(ctx, rxcui, m.Legacy))
		if err != nil {
			return err
		}
		b.usedIngredients[rxcui] = true
		if err := b.attachDrug(ctx, ing, c, m.Legacy); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) attachDrug(ctx context.Context, parent *tree.Node, c *concept.Concept, legacy bool) error {
	drug, err := b.assembler.Attach(parent, &tree.Node{
		Segment:         strconv.Itoa(c.Canonical),
		Name:            c.Name,
		BaseCode:        "RXNORM:" + strconv.Itoa(c.Canonical),
		Kind:            tree.KindConcept,
		Legacy:          legacy,
		SortIngredients: c.SortKey(),
	})
	if err != nil {
		return err
	}
	if c.Category != rxnav.CategoryDrug {
		return nil
	}

	packages, err := b.expander.Expand(ctx, c)
	if err != nil {
		if errors.Is(err, fetch.ErrRemoteUnavailable) {
			b.logger.Warn("package expansion unavailable, drug kept without packages",
				zap.Int("rxcui", c.Canonical),
				zap.Error(err))
			return nil
		}
		return err
	}
	for _, p := range packages {
		if _, err := b.assembler.Attach(drug, &tree.Node{
			Segment:  p.Code,
			Name:     p.Name,
			BaseCode: "NDC:" + p.Code,
			Kind:     tree.KindPackage,
			Legacy:   legacy,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ingredientNode builds the folder node for an ingredient identifier, naming
// it from the registry when the universe resolved it, from the service
// otherwise.
func (b *builder) ingredientNode(ctx context.Context, rxcui int, legacy bool) *tree.Node {
	name := strconv.Itoa(rxcui)
	if ing, ok := b.registry.Lookup(rxcui); ok {
		name = ing.Name
	} else if rec, err := b.namer.HistoryConcept(ctx, rxcui); err == nil {
		name = rec.Name
	} else {
		b.logger.Warn("no name for ingredient, using identifier",
			zap.Int("rxcui", rxcui),
			zap.Error(err))
	}
	return &tree.Node{
		Segment:         strconv.Itoa(rxcui),
		Name:            name,
		BaseCode:        "RXNORM:" + strconv.Itoa(rxcui),
		Kind:            tree.KindConcept,
		Legacy:          legacy,
		SortIngredients: strings.ToLower(name),
	}
}

// attachUnclassified places a concept with no class membership under
// UNCLASSIFIED, bucketed by the first letter of its sort key.
func (b *builder) attachUnclassified(ctx context.Context, c *concept.Concept) error {
	bucket, err := b.assembler.Attach(b.assembler.Root(), &tree.Node{
		Segment: "UNCLASSIFIED",
		Name:    "Unclassified",
		Kind:    tree.KindFolder,
		Tooltip: "concepts without a drug class",
	})
	if err != nil {
		return err
	}
	letter, err := b.assembler.Attach(bucket, &tree.Node{
		Segment: bucketLetter(c.SortKey()),
		Name:    bucketLetter(c.SortKey()),
		Kind:    tree.KindFolder,
	})
	if err != nil {
		return err
	}
	return b.attachDrug(ctx, letter, c, false)
}

// attachProvenance adds the PROVENANCE folder with its descriptive children.
// The values travel in tooltips; the rows carry no base codes.
func (b *builder) attachProvenance() error {
	folder, err := b.assembler.Attach(b.assembler.Root(), &tree.Node{
		Segment:    "PROVENANCE",
		Name:       "Provenance",
		Kind:       tree.KindFolder,
		Tooltip:    "metadata provenance",
		VisualAttr: "FH ",
	})
	if err != nil {
		return err
	}
	children := []struct{ tag, tooltip string }{
		{"VERSION", b.settings.SourceVersion},
		{"SOURCE", "NLM"},
		{"BUILD_DATE", time.Now().Format("2006-01-02")},
	}
	for _, child := range children {
		if _, err := b.assembler.Attach(folder, &tree.Node{
			Segment:    child.tag,
			Name:       child.tag,
			Kind:       tree.KindFolder,
			Tooltip:    child.tooltip,
			VisualAttr: "LH ",
		}); err != nil {
			return err
		}
	}
	return nil
}

// classNode renders one taxonomy class as a path node. Class names arrive in
// service capitals and are rendered sentence-style.
func classNode(class *classify.Node) *tree.Node {
	names := make([]string, 0, 3)
	for _, n := range class.Chain() {
		if len(names) == 3 {
			break
		}
		names = append(names, classNodeName(n))
	}
	return &tree.Node{
		Segment:  class.ClassID,
		Name:     classNodeName(class),
		BaseCode: "VACLASS:" + class.ClassID,
		Kind:     tree.KindClass,
		Legacy:   class.Source == classify.SourceLegacy,
		Tooltip:  strings.Join(names, ", "),
	}
}

func classDisplayName(name string) string {
	if name == "" {
		return name
	}
	runes := []rune(strings.ToLower(name))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func classNodeName(class *classify.Node) string {
	// Synthesized taxonomy roots already carry a display name; service class
	// names arrive in capitals and are rendered sentence-style.
	if class.Parent == nil {
		return class.Name
	}
	return classDisplayName(class.Name)
}

func bucketLetter(key string) string {
	for _, r := range key {
		upper := unicode.ToUpper(r)
		if upper >= 'A' && upper <= 'Z' {
			return string(upper)
		}
		break
	}
	return "#"
}
