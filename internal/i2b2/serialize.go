package i2b2

import (
	"github.com/clinformatics/rxmeta/internal/tree"
)

// SerializeOptions control row derivation from the tree.
type SerializeOptions struct {
	// Provenance marks legacy-taxonomy rows with a distinct source system so
	// their origin survives into the warehouse.
	Provenance bool
}

// Serialize walks the finalized tree depth-first in sibling order and hands
// one row per node to fn. Rows stream through the callback; the whole output
// is never materialized.
func Serialize(root *tree.Node, opts SerializeOptions, fn func(Row) error) error {
	return root.Walk(func(n *tree.Node) error {
		return fn(FromNode(n, opts))
	})
}

// FromNode derives the output row for one path node.
func FromNode(n *tree.Node, opts SerializeOptions) Row {
	row := Row{
		FullName:   n.Path,
		Level:      n.Level,
		Name:       n.Name,
		BaseCode:   n.BaseCode,
		VisualAttr: n.VisualAttr,
		Tooltip:    n.Tooltip,
	}
	if opts.Provenance && n.Legacy {
		row.Source = SourceSystem + ":NDFRT"
	}
	return row
}
