// Package tree assembles classification chains, drug concepts and packages
// into one rooted path hierarchy, assigns levels and full paths, deduplicates
// nodes discovered through multiple routes, and validates the structural
// invariants the downstream format depends on.
package tree

import (
	"sort"
	"strings"
)

// Kind distinguishes what a path node stands for.
type Kind int

const (
	KindRoot Kind = iota
	KindClass
	KindFolder
	KindConcept
	KindPackage
)

// Node is one node of the assembled hierarchy. Segment is its single path
// component; Path and Level are assigned when the tree is finalized.
type Node struct {
	Segment  string
	Name     string
	BaseCode string // namespaced (RXNORM:, NDC:, VACLASS:, NDFRT:); may be empty for folders
	Kind     Kind
	Tooltip  string
	Legacy   bool
	// SortIngredients is the concept's alphabetized ingredient tuple,
	// lowercased; empty for classes and folders.
	SortIngredients string
	// VisualAttr overrides the derived visual attribute when non-empty.
	VisualAttr string

	Path     string
	Level    int
	Children []*Node

	parent    *Node
	bySegment map[string]*Node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Parent returns the node's parent, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Walk visits the node and its descendants depth-first in child order,
// stopping at the first error.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, child := range n.Children {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) child(segment string) (*Node, bool) {
	c, ok := n.bySegment[segment]
	return c, ok
}

func (n *Node) attach(child *Node) {
	if n.bySegment == nil {
		n.bySegment = make(map[string]*Node)
	}
	child.parent = n
	n.bySegment[child.Segment] = child
	n.Children = append(n.Children, child)
}

// sortSiblings orders children recursively by the deterministic sibling key:
// ingredient tuple, then display name, then base code. The ordering is a
// total one, so permuting the input discovery order cannot change the output.
func (n *Node) sortSiblings() {
	sort.Slice(n.Children, func(i, j int) bool {
		return lessSibling(n.Children[i], n.Children[j])
	})
	for _, child := range n.Children {
		child.sortSiblings()
	}
}

func lessSibling(a, b *Node) bool {
	if a.SortIngredients != b.SortIngredients {
		return a.SortIngredients < b.SortIngredients
	}
	an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if an != bn {
		return an < bn
	}
	return a.BaseCode < b.BaseCode
}

// segmentCount returns the number of non-empty backslash-delimited segments.
func segmentCount(path string) int {
	count := 0
	for _, seg := range strings.Split(path, `\`) {
		if seg != "" {
			count++
		}
	}
	return count
}
