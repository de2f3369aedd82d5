package tree

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// IntegrityError reports a structural invariant violation. It is fatal: an
// invalid tree would silently corrupt the downstream consumer, so the run
// aborts before any output file is written.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("tree integrity violation at %s: %s", e.Path, e.Reason)
}

// Config holds the assembler's path settings. Prefix is the leading path
// segment(s) without surrounding backslashes ("rxmeta" or
// `PCORI\MEDICATION`); PrefixLevel is the level assigned to the root row and
// must equal the prefix's segment count.
type Config struct {
	Prefix      string
	PrefixLevel int
	RootName    string
	RootCode    string
}

// DefaultConfig returns the standard single-segment root.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		PrefixLevel: segmentCount(`\` + prefix + `\`),
		RootName:    "Medications",
		RootCode:    "RXNORM_ROOT",
	}
}

// Assembler builds the hierarchy top-down. Attach calls dedupe nodes reaching
// an existing (path, base code) pair and reject conflicting base codes at the
// same path; Finalize assigns paths and levels, validates the invariants and
// fixes the sibling order.
type Assembler struct {
	config Config
	root   *Node
	logger *zap.Logger
}

// NewAssembler creates an Assembler with the configured root node.
func NewAssembler(config Config, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PrefixLevel == 0 {
		config.PrefixLevel = segmentCount(`\` + config.Prefix + `\`)
	}
	root := &Node{
		Segment:    config.Prefix,
		Name:       config.RootName,
		BaseCode:   config.RootCode,
		Kind:       KindRoot,
		Tooltip:    config.RootName,
		VisualAttr: "CA ",
	}
	return &Assembler{config: config, root: root, logger: logger}
}

// Root returns the tree's root node.
func (a *Assembler) Root() *Node { return a.root }

// Attach adds child under parent, deduplicating against an existing node at
// the same path. Reaching an existing segment with the same base code returns
// the existing node (identical content discovered via two routes collapses to
// one node); a different base code at the same path is an IntegrityError.
func (a *Assembler) Attach(parent *Node, child *Node) (*Node, error) {
	if child.Segment == "" || strings.ContainsRune(child.Segment, '\\') {
		return nil, &IntegrityError{
			Path:   a.pathOf(parent) + child.Segment,
			Reason: fmt.Sprintf("invalid path segment %q", child.Segment),
		}
	}

	if existing, ok := parent.child(child.Segment); ok {
		if existing.BaseCode != child.BaseCode {
			return nil, &IntegrityError{
				Path: a.pathOf(existing),
				Reason: fmt.Sprintf("base code conflict: %q already present, %q attached",
					existing.BaseCode, child.BaseCode),
			}
		}
		return existing, nil
	}

	parent.attach(child)
	return child, nil
}

// Finalize assigns full paths and levels, validates every structural
// invariant and sorts all sibling sets. It must be called exactly once, after
// all Attach calls.
func (a *Assembler) Finalize() (*Node, error) {
	a.root.sortSiblings()

	a.root.Path = `\` + a.config.Prefix + `\`
	a.root.Level = a.config.PrefixLevel
	if err := a.validate(a.root); err != nil {
		return nil, err
	}

	leafCodes := make(map[string]int)
	_ = a.root.Walk(func(n *Node) error {
		if n.IsLeaf() && n.BaseCode != "" {
			leafCodes[n.BaseCode]++
		}
		return nil
	})
	_ = a.root.Walk(func(n *Node) error {
		if n.VisualAttr != "" {
			return nil
		}
		switch {
		case !n.IsLeaf():
			n.VisualAttr = "FA "
		case leafCodes[n.BaseCode] > 1:
			n.VisualAttr = "MA "
		default:
			n.VisualAttr = "LA "
		}
		return nil
	})
	return a.root, nil
}

func (a *Assembler) validate(n *Node) error {
	if got := segmentCount(n.Path); got != n.Level {
		return &IntegrityError{
			Path:   n.Path,
			Reason: fmt.Sprintf("level %d does not match segment count %d", n.Level, got),
		}
	}

	codes := make(map[string]string, len(n.Children))
	for _, child := range n.Children {
		child.Path = n.Path + child.Segment + `\`
		child.Level = n.Level + 1
		if child.BaseCode != "" {
			if prev, dup := codes[child.BaseCode]; dup {
				return &IntegrityError{
					Path:   n.Path,
					Reason: fmt.Sprintf("base code %s at both %s and %s", child.BaseCode, prev, child.Segment),
				}
			}
			codes[child.BaseCode] = child.Segment
		}
		if err := a.validate(child); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) pathOf(n *Node) string {
	var segments []string
	for cur := n; cur != nil; cur = cur.parent {
		segments = append([]string{cur.Segment}, segments...)
	}
	return `\` + strings.Join(segments, `\`) + `\`
}
