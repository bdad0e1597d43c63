// Package decision holds the ROOT/BRANCH/LEAF decision-graph model shared by
// the extractor and the validator. It is a pure data container: constructors
// enforce the structural invariants, traversal helpers are read-only, and the
// derived completeness fields are written only by the validator.
package decision

import "iter"

// Edge connects a decision node to one of its successors. From must be a
// ROOT or BRANCH; To may be any kind.
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

// Metrics summarizes tree quality as computed by the validator.
type Metrics struct {
	RootCount           int     `json:"rootCount"`
	BranchCount         int     `json:"branchCount"`
	LeafCount           int     `json:"leafCount"`
	OrphanCount         int     `json:"orphanCount"`
	IncompletePathCount int     `json:"incompletePathCount"`
	CompletenessScore   float64 `json:"completenessScore"`
}

// Tree is a decision graph extracted from one section group of a document.
// Node ids are document-local; the graph sink remaps them on write.
type Tree struct {
	RootIDs []string         `json:"rootIds"`
	Nodes   map[string]*Node `json:"nodes"`
	Edges   []Edge           `json:"edges"`

	// Derived fields, recomputed by the validator.
	IsComplete bool     `json:"isComplete"`
	Metrics    *Metrics `json:"metrics,omitempty"`
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{Nodes: make(map[string]*Node)}
}

// AddNode validates and inserts a node. Duplicate ids are a construction
// error, not a merge.
func (t *Tree) AddNode(n Node) (*Node, error) {
	node, err := NewNode(n)
	if err != nil {
		return nil, err
	}
	if _, exists := t.Nodes[node.ID]; exists {
		return nil, validationErrorf("node-id-unique", "duplicate node id %s", node.ID)
	}
	t.Nodes[node.ID] = node
	if node.Kind == KindRoot {
		t.RootIDs = append(t.RootIDs, node.ID)
	}
	return node, nil
}

// AddEdge validates and appends an edge. Both endpoints must already exist.
func (t *Tree) AddEdge(e Edge) error {
	if !validRelation(e.Relation) {
		return validationErrorf("edge-relation", "unknown relation %q on edge %s->%s", e.Relation, e.From, e.To)
	}
	from, ok := t.Nodes[e.From]
	if !ok {
		return validationErrorf("edge-endpoint", "edge from nonexistent node %s", e.From)
	}
	if _, ok := t.Nodes[e.To]; !ok {
		return validationErrorf("edge-endpoint", "edge to nonexistent node %s", e.To)
	}
	if from.Kind != KindRoot && from.Kind != KindBranch {
		return validationErrorf("edge-source-kind",
			"edge source %s must be ROOT or BRANCH, got %s", e.From, from.Kind)
	}
	t.Edges = append(t.Edges, e)
	return nil
}

// ChildrenOf returns the successor node ids of id in edge insertion order.
func (t *Tree) ChildrenOf(id string) []string {
	var out []string
	for _, e := range t.Edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}

// Path is one root-to-terminal walk. Cyclic is set when the walk had to stop
// because it revisited a node.
type Path struct {
	Nodes  []string
	Cyclic bool
}

// PathsFrom lazily yields every path starting at rootID. A path ends at a
// node with no outgoing edges, or is cut short (Cyclic=true) when following
// an edge would revisit a node already on the path. The sequence is finite
// for any tree because each path visits a node at most once.
func (t *Tree) PathsFrom(rootID string) iter.Seq[Path] {
	return func(yield func(Path) bool) {
		if _, ok := t.Nodes[rootID]; !ok {
			return
		}
		onPath := map[string]bool{rootID: true}
		stack := []string{rootID}

		var walk func() bool
		walk = func() bool {
			cur := stack[len(stack)-1]
			children := t.ChildrenOf(cur)
			if len(children) == 0 {
				return yield(Path{Nodes: append([]string(nil), stack...)})
			}
			for _, child := range children {
				if onPath[child] {
					cyclic := append(append([]string(nil), stack...), child)
					if !yield(Path{Nodes: cyclic, Cyclic: true}) {
						return false
					}
					continue
				}
				onPath[child] = true
				stack = append(stack, child)
				ok := walk()
				stack = stack[:len(stack)-1]
				delete(onPath, child)
				if !ok {
					return false
				}
			}
			return true
		}
		walk()
	}
}
