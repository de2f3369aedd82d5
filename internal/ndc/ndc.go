// Package ndc expands canonical drug concepts into their packaged-product
// (NDC) children and resolves package display names from an FDA-derived
// name table.
package ndc

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/concept"
	"github.com/clinformatics/rxmeta/internal/observability/metrics"
)

// Package is one packaged product attached to a drug concept.
type Package struct {
	Code string
	Name string
}

// PackageSource is the remote surface the expander needs.
type PackageSource interface {
	AllHistoricalNDCs(ctx context.Context, rxcui int) ([]string, error)
}

// Expander retrieves and names the packages of a concept. Packages are
// queried for the canonical identifier only; historical identifiers share
// the canonical's package history, and re-querying them would duplicate
// attachments.
type Expander struct {
	source  PackageSource
	names   *NameTable
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewExpander creates an Expander. names and m may be nil.
func NewExpander(source PackageSource, names *NameTable, logger *zap.Logger, m *metrics.Metrics) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{source: source, names: names, logger: logger, metrics: m}
}

// Expand returns the concept's packages, deduplicated by code and sorted.
// A concept with no packages returns an empty slice; it stays a leaf at the
// concept level.
func (e *Expander) Expand(ctx context.Context, c *concept.Concept) ([]Package, error) {
	codes, err := e.source.AllHistoricalNDCs(ctx, c.Canonical)
	if err != nil {
		return nil, fmt.Errorf("packages for rxcui %d: %w", c.Canonical, err)
	}

	seen := make(map[string]bool, len(codes))
	packages := make([]Package, 0, len(codes))
	for _, code := range codes {
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		packages = append(packages, Package{Code: code, Name: e.displayName(code, c)})
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Code < packages[j].Code })

	if e.metrics != nil {
		e.metrics.PackagesAttached.Add(float64(len(packages)))
	}
	return packages, nil
}

// displayName prefers the FDA name for the code; packages the FDA file does
// not cover fall back to "(code) parent drug name".
func (e *Expander) displayName(code string, parent *concept.Concept) string {
	if e.names != nil {
		if name, ok := e.names.Lookup(code); ok {
			return name
		}
	}
	return fmt.Sprintf("(%s) %s", code, parent.Name)
}
