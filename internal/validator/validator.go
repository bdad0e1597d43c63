// Package validator checks a constructed decision tree for completeness:
// every node reachable from a root, every path ending at a terminal node
// with a valid outcome, outcome coverage per root, and precedence bands.
// Incompleteness is a reported result, never an error; only structurally
// broken input (a dangling edge reference or zero roots) fails, since that
// indicates a bug in the extractor rather than messy source text.
package validator

import (
	"fmt"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
)

// DefectKind classifies a completeness defect.
type DefectKind string

const (
	DefectOrphan              DefectKind = "Orphan"
	DefectIncompletePath      DefectKind = "IncompletePath"
	DefectMissingOutcome      DefectKind = "MissingOutcome"
	DefectPrecedenceViolation DefectKind = "PrecedenceViolation"
	DefectDependencyCycle     DefectKind = "DependencyCycle"
)

// Defect is one reported problem. Warning-level defects (dependency cycles)
// do not affect completeness.
type Defect struct {
	Kind    DefectKind `json:"kind"`
	NodeID  string     `json:"nodeId,omitempty"`
	RootID  string     `json:"rootId,omitempty"`
	Detail  string     `json:"detail"`
	Warning bool       `json:"warning,omitempty"`
}

// Result is the validation verdict for one tree.
type Result struct {
	IsComplete bool             `json:"isComplete"`
	Metrics    decision.Metrics `json:"metrics"`
	Defects    []Defect         `json:"defects"`
}

// StructuralError indicates the tree itself is malformed and cannot be
// meaningfully validated.
type StructuralError struct {
	Detail string
}

func (e *StructuralError) Error() string {
	return "structurally invalid tree: " + e.Detail
}

// Validate computes completeness and metrics for t, annotating the tree's
// derived fields. It must not add or remove nodes; any repair happens in the
// extractor before the tree reaches here. requireReferral extends the
// mandatory outcome coverage with REFER.
func Validate(t *decision.Tree, requireReferral bool) (*Result, error) {
	if err := checkStructure(t); err != nil {
		return nil, err
	}

	res := &Result{}
	var m decision.Metrics

	for _, n := range t.Nodes {
		switch n.Kind {
		case decision.KindRoot:
			m.RootCount++
		case decision.KindBranch:
			m.BranchCount++
		default:
			m.LeafCount++
		}
		rng := decision.KindRanges[n.Kind]
		if n.Precedence < rng.Min || n.Precedence > rng.Max {
			res.Defects = append(res.Defects, Defect{
				Kind:   DefectPrecedenceViolation,
				NodeID: n.ID,
				Detail: fmt.Sprintf("%s precedence %d outside [%d,%d]", n.Kind, n.Precedence, rng.Min, rng.Max),
			})
		}
	}

	// Orphans: union of per-root reachable sets must cover every node.
	reached := make(map[string]bool, len(t.Nodes))
	perRoot := make(map[string]map[string]bool, len(t.RootIDs))
	for _, rootID := range t.RootIDs {
		set := reachableFrom(t, rootID)
		perRoot[rootID] = set
		for id := range set {
			reached[id] = true
		}
	}
	for id := range t.Nodes {
		if !reached[id] {
			m.OrphanCount++
			res.Defects = append(res.Defects, Defect{
				Kind:   DefectOrphan,
				NodeID: id,
				Detail: "node unreachable from any root",
			})
		}
	}

	// Path termination.
	totalPaths, correctPaths := 0, 0
	for _, rootID := range t.RootIDs {
		for p := range t.PathsFrom(rootID) {
			totalPaths++
			last := p.Nodes[len(p.Nodes)-1]
			end := t.Nodes[last]
			if !p.Cyclic && decision.IsTerminalKind(end.Kind) && end.Outcome != "" {
				correctPaths++
				continue
			}
			m.IncompletePathCount++
			detail := "path dead-ends without an outcome"
			if p.Cyclic {
				detail = "path revisits a node"
			}
			res.Defects = append(res.Defects, Defect{
				Kind:   DefectIncompletePath,
				NodeID: last,
				RootID: rootID,
				Detail: detail,
			})
		}
	}
	if totalPaths > 0 {
		m.CompletenessScore = float64(correctPaths) / float64(totalPaths)
	}

	// Outcome coverage per root.
	mandatory := []decision.Outcome{decision.OutcomeApprove, decision.OutcomeDecline}
	if requireReferral {
		mandatory = append(mandatory, decision.OutcomeRefer)
	}
	covered := true
	for _, rootID := range t.RootIDs {
		have := make(map[decision.Outcome]bool)
		for id := range perRoot[rootID] {
			if n := t.Nodes[id]; decision.IsTerminalKind(n.Kind) {
				have[n.Outcome] = true
			}
		}
		for _, o := range mandatory {
			if !have[o] {
				covered = false
				res.Defects = append(res.Defects, Defect{
					Kind:   DefectMissingOutcome,
					RootID: rootID,
					Detail: fmt.Sprintf("no %s outcome reachable from root", o),
				})
			}
		}
	}

	// Dependency-field cycles are informational metadata only; flag as a
	// warning without affecting completeness.
	if id, ok := dependencyCycle(t); ok {
		res.Defects = append(res.Defects, Defect{
			Kind:    DefectDependencyCycle,
			NodeID:  id,
			Detail:  "dependencies field forms a cycle",
			Warning: true,
		})
	}

	precedenceOK := true
	for _, d := range res.Defects {
		if d.Kind == DefectPrecedenceViolation {
			precedenceOK = false
		}
	}

	res.Metrics = m
	res.IsComplete = m.CompletenessScore == 1.0 && m.OrphanCount == 0 && covered && precedenceOK

	t.IsComplete = res.IsComplete
	t.Metrics = &m
	return res, nil
}

func checkStructure(t *decision.Tree) error {
	if len(t.RootIDs) == 0 {
		return &StructuralError{Detail: "tree has zero roots"}
	}
	for _, rootID := range t.RootIDs {
		n, ok := t.Nodes[rootID]
		if !ok {
			return &StructuralError{Detail: fmt.Sprintf("root id %s not in node map", rootID)}
		}
		if n.Kind != decision.KindRoot {
			return &StructuralError{Detail: fmt.Sprintf("root id %s has kind %s", rootID, n.Kind)}
		}
	}
	for _, e := range t.Edges {
		if _, ok := t.Nodes[e.From]; !ok {
			return &StructuralError{Detail: fmt.Sprintf("edge references nonexistent node %s", e.From)}
		}
		if _, ok := t.Nodes[e.To]; !ok {
			return &StructuralError{Detail: fmt.Sprintf("edge references nonexistent node %s", e.To)}
		}
	}
	return nil
}

func reachableFrom(t *decision.Tree, rootID string) map[string]bool {
	seen := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range t.ChildrenOf(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// dependencyCycle runs a three-color DFS over the informational
// dependencies graph and returns a node on the first cycle found.
func dependencyCycle(t *decision.Tree) (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(t.Nodes))
	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		color[id] = gray
		n := t.Nodes[id]
		if n != nil {
			for _, dep := range n.Dependencies {
				if _, ok := t.Nodes[dep]; !ok {
					continue
				}
				switch color[dep] {
				case gray:
					return dep, true
				case white:
					if hit, ok := visit(dep); ok {
						return hit, true
					}
				}
			}
		}
		color[id] = black
		return "", false
	}
	for id := range t.Nodes {
		if color[id] == white {
			if hit, ok := visit(id); ok {
				return hit, true
			}
		}
	}
	return "", false
}
