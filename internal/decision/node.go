package decision

import "fmt"

// Kind classifies a node's role in a decision tree.
type Kind string

const (
	KindRoot     Kind = "ROOT"
	KindBranch   Kind = "BRANCH"
	KindLeaf     Kind = "LEAF"
	KindTerminal Kind = "TERMINAL" // LEAF variant reserved for manual-review exits.
)

// Outcome is a terminal decision result.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeDecline Outcome = "DECLINE"
	OutcomeRefer   Outcome = "REFER"
)

// Relation labels an edge between two nodes.
type Relation string

const (
	RelationLeadsTo      Relation = "LEADS_TO"
	RelationIfTrue       Relation = "IF_TRUE"
	RelationIfFalse      Relation = "IF_FALSE"
	RelationExceptionFor Relation = "EXCEPTION_FOR"
	RelationDefaultPath  Relation = "DEFAULT_PATH"
)

// PrecedenceRange is the inclusive evaluation-order band for a node kind.
type PrecedenceRange struct {
	Min, Max int
}

// KindRanges maps each node kind to its valid precedence band. The bands
// are an external contract: ROOT 1-5, BRANCH 6-89, LEAF/TERMINAL 90-99.
var KindRanges = map[Kind]PrecedenceRange{
	KindRoot:     {Min: 1, Max: 5},
	KindBranch:   {Min: 6, Max: 89},
	KindLeaf:     {Min: 90, Max: 99},
	KindTerminal: {Min: 90, Max: 99},
}

// SourceRef points a node back at the section of source text it came from.
type SourceRef struct {
	Section    string  `json:"section"`
	Confidence float64 `json:"confidence"`
}

// Node is a single decision point or terminal outcome.
type Node struct {
	ID           string      `json:"id"`
	Kind         Kind        `json:"kind"`
	Title        string      `json:"title"`
	Precedence   int         `json:"precedence"`
	Condition    string      `json:"condition,omitempty"`
	Outcome      Outcome     `json:"outcome,omitempty"`
	SourceRefs   []SourceRef `json:"sourceRefs,omitempty"`
	Dependencies []string    `json:"dependencies,omitempty"`
}

// ValidationError reports a model invariant violated during construction.
type ValidationError struct {
	Invariant string
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Invariant, e.Detail)
}

func validationErrorf(invariant, format string, args ...any) error {
	return &ValidationError{Invariant: invariant, Detail: fmt.Sprintf(format, args...)}
}

// IsTerminalKind reports whether k carries an outcome.
func IsTerminalKind(k Kind) bool {
	return k == KindLeaf || k == KindTerminal
}

func validOutcome(o Outcome) bool {
	return o == OutcomeApprove || o == OutcomeDecline || o == OutcomeRefer
}

func validRelation(r Relation) bool {
	switch r {
	case RelationLeadsTo, RelationIfTrue, RelationIfFalse, RelationExceptionFor, RelationDefaultPath:
		return true
	}
	return false
}

// NewNode validates n against the model invariants and returns a copy.
// Every node entering a Tree must pass through here.
func NewNode(n Node) (*Node, error) {
	if n.ID == "" {
		return nil, validationErrorf("node-id", "node id must not be empty")
	}
	rng, ok := KindRanges[n.Kind]
	if !ok {
		return nil, validationErrorf("node-kind", "unknown node kind %q for node %s", n.Kind, n.ID)
	}
	if n.Precedence < rng.Min || n.Precedence > rng.Max {
		return nil, validationErrorf("precedence-range",
			"node %s: %s precedence must be in [%d,%d], got %d", n.ID, n.Kind, rng.Min, rng.Max, n.Precedence)
	}
	if IsTerminalKind(n.Kind) {
		if !validOutcome(n.Outcome) {
			return nil, validationErrorf("outcome-required",
				"node %s: %s requires an outcome of APPROVE, DECLINE or REFER, got %q", n.ID, n.Kind, n.Outcome)
		}
		if n.Kind == KindTerminal && n.Outcome != OutcomeRefer {
			return nil, validationErrorf("terminal-outcome",
				"node %s: TERMINAL is reserved for REFER, got %q", n.ID, n.Outcome)
		}
		if n.Condition != "" {
			return nil, validationErrorf("condition-placement",
				"node %s: %s must not carry a condition", n.ID, n.Kind)
		}
	} else if n.Outcome != "" {
		return nil, validationErrorf("outcome-placement",
			"node %s: %s must not carry an outcome", n.ID, n.Kind)
	}
	out := n
	out.SourceRefs = append([]SourceRef(nil), n.SourceRefs...)
	out.Dependencies = append([]string(nil), n.Dependencies...)
	return &out, nil
}
