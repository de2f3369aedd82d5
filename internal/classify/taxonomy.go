// Package classify attaches canonical drug concepts to classification
// hierarchies: the VA drug-class taxonomy first, the retired NDF-RT taxonomy
// as a fallback, and an unclassified bucket so no concept is ever dropped.
package classify

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/rxnav"
)

// TaxonomySource names which classification system a node came from. The
// values double as the service's relaSource query parameter.
type TaxonomySource string

const (
	SourcePrimary TaxonomySource = "VA"
	SourceLegacy  TaxonomySource = "NDFRT"
)

// Node is one class in a taxonomy. Every non-root node has a parent chain
// terminating at the taxonomy root.
type Node struct {
	ClassID  string
	Name     string
	Source   TaxonomySource
	Parent   *Node
	Children []*Node
}

// IsLeaf reports whether the node has no child classes.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Chain returns the path from the taxonomy root down to this node.
func (n *Node) Chain() []*Node {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Taxonomy is one loaded classification hierarchy plus its harvested
// drug-to-class membership.
type Taxonomy struct {
	Root       *Node
	Source     TaxonomySource
	byID       map[string]*Node
	membership map[int][]string // drug rxcui -> leaf class IDs, sorted
}

// NodeByID returns the class node with the given ID, if present.
func (t *Taxonomy) NodeByID(classID string) (*Node, bool) {
	n, ok := t.byID[classID]
	return n, ok
}

// MemberClasses returns the IDs of the leaf classes the drug belongs to,
// in class-code order.
func (t *Taxonomy) MemberClasses(rxcui int) []string {
	return t.membership[rxcui]
}

// Leaves returns every leaf class, in class-code order.
func (t *Taxonomy) Leaves() []*Node {
	var leaves []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsLeaf() && n != t.Root {
			leaves = append(leaves, n)
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(t.Root)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].ClassID < leaves[j].ClassID })
	return leaves
}

// TreeSource is the remote surface taxonomy loading needs.
type TreeSource interface {
	ClassTree(ctx context.Context, classID string) ([]rxnav.ClassTreeItem, error)
	ClassMembers(ctx context.Context, classID, relaSource string) ([]int, error)
}

// LoadTaxonomy fetches the class tree rooted at rootID and harvests drug
// membership for every leaf class. rootName labels the synthesized root node
// (the service returns only the root's children).
func LoadTaxonomy(ctx context.Context, source TreeSource, rootID, rootName string, ts TaxonomySource, logger *zap.Logger) (*Taxonomy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	items, err := source.ClassTree(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("load %s taxonomy: %w", ts, err)
	}

	root := &Node{ClassID: rootID, Name: rootName, Source: ts}
	t := &Taxonomy{
		Root:       root,
		Source:     ts,
		byID:       map[string]*Node{rootID: root},
		membership: make(map[int][]string),
	}
	t.attach(root, items)

	for _, leaf := range t.Leaves() {
		members, err := source.ClassMembers(ctx, leaf.ClassID, string(ts))
		if err != nil {
			return nil, fmt.Errorf("members of class %s: %w", leaf.ClassID, err)
		}
		for _, rxcui := range members {
			t.membership[rxcui] = append(t.membership[rxcui], leaf.ClassID)
		}
	}
	for rxcui := range t.membership {
		sort.Strings(t.membership[rxcui])
	}

	logger.Info("taxonomy loaded",
		zap.String("source", string(ts)),
		zap.String("root", rootID),
		zap.Int("classes", len(t.byID)),
		zap.Int("classified_drugs", len(t.membership)))
	return t, nil
}

func (t *Taxonomy) attach(parent *Node, items []rxnav.ClassTreeItem) {
	for _, item := range items {
		n := &Node{
			ClassID: item.ClassID,
			Name:    item.ClassName,
			Source:  t.Source,
			Parent:  parent,
		}
		parent.Children = append(parent.Children, n)
		t.byID[n.ClassID] = n
		t.attach(n, item.Children)
	}
	sort.Slice(parent.Children, func(i, j int) bool {
		return parent.Children[i].ClassID < parent.Children[j].ClassID
	})
}
