package extractor

import (
	"fmt"
	"sort"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/llm"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

// builtRoot tracks one ROOT's subtree while wiring edges.
type builtRoot struct {
	id          string
	title       string
	secOrder    int
	branches    []string
	branchBySec map[string][]string
	leaves      []builtLeaf
}

type builtLeaf struct {
	id         string
	kind       decision.Kind
	outcome    decision.Outcome
	sectionID  string
	branchTied bool
}

// treeBuilder assembles a decision.Tree with document-local sequential ids.
type treeBuilder struct {
	doc      *navtree.Document
	tree     *decision.Tree
	seq      int
	warnings []Warning
	roots    []*builtRoot
	titleIdx map[string]string
	edgeSeen map[string]bool
}

func newBuilder(doc *navtree.Document) *treeBuilder {
	return &treeBuilder{
		doc:      doc,
		tree:     decision.NewTree(),
		titleIdx: make(map[string]string),
		edgeSeen: make(map[string]bool),
	}
}

// addNode assigns the next document-local id and inserts the node. A
// candidate that violates a model invariant is dropped with a warning, per
// the single-candidate failure policy.
func (b *treeBuilder) addNode(n decision.Node) string {
	b.seq++
	n.ID = fmt.Sprintf("n-%03d", b.seq)
	if _, err := b.tree.AddNode(n); err != nil {
		b.warnings = append(b.warnings, Warning{
			Code:   WarnCandidateDropped,
			Detail: err.Error(),
		})
		return ""
	}
	norm := normalizeTitle(n.Title)
	if _, ok := b.titleIdx[norm]; !ok && norm != "" {
		b.titleIdx[norm] = n.ID
	}
	return n.ID
}

func (b *treeBuilder) edge(from, to string, rel decision.Relation) {
	key := from + "\x00" + to + "\x00" + string(rel)
	if b.edgeSeen[key] {
		return
	}
	if err := b.tree.AddEdge(decision.Edge{From: from, To: to, Relation: rel}); err != nil {
		return
	}
	b.edgeSeen[key] = true
}

func (b *treeBuilder) secOrder(secID string) int {
	if s := b.doc.Section(secID); s != nil {
		return s.Order
	}
	return 0
}

func (b *treeBuilder) buildRoots(roots []*candidate) {
	for i, rc := range roots {
		prec := i + 1
		if r := decision.KindRanges[decision.KindRoot]; rc.precedence >= r.Min && rc.precedence <= r.Max {
			prec = rc.precedence
		}
		id := b.addNode(decision.Node{
			Kind: decision.KindRoot, Title: rc.title, Precedence: prec,
			SourceRefs: rc.refs,
		})
		if id == "" {
			continue
		}
		b.roots = append(b.roots, &builtRoot{
			id:          id,
			title:       rc.title,
			secOrder:    b.secOrder(rc.sectionID),
			branchBySec: make(map[string][]string),
		})
	}
	sort.SliceStable(b.roots, func(i, j int) bool { return b.roots[i].secOrder < b.roots[j].secOrder })
}

// rootFor maps a section to the nearest preceding root, falling back to the
// first.
func (b *treeBuilder) rootFor(secID string) *builtRoot {
	if len(b.roots) == 0 {
		return nil
	}
	order := b.secOrder(secID)
	best := b.roots[0]
	for _, r := range b.roots {
		if r.secOrder <= order {
			best = r
		}
	}
	return best
}

func (b *treeBuilder) buildBranches(branches []*candidate) {
	sort.SliceStable(branches, func(i, j int) bool { return branches[i].order < branches[j].order })
	rng := decision.KindRanges[decision.KindBranch]
	for i, c := range branches {
		prec := rng.Min + i
		if prec > rng.Max {
			prec = rng.Max
		}
		if c.precedence >= rng.Min && c.precedence <= rng.Max {
			prec = c.precedence
		}
		id := b.addNode(decision.Node{
			Kind: decision.KindBranch, Title: c.title, Precedence: prec,
			Condition: c.condition, SourceRefs: c.refs,
		})
		if id == "" {
			continue
		}
		r := b.rootFor(c.sectionID)
		if r == nil {
			continue
		}
		b.edge(r.id, id, decision.RelationLeadsTo)
		r.branches = append(r.branches, id)
		r.branchBySec[c.sectionID] = append(r.branchBySec[c.sectionID], id)
	}
}

func (b *treeBuilder) buildLeaves(leaves []*candidate) {
	sort.SliceStable(leaves, func(i, j int) bool { return leaves[i].order < leaves[j].order })
	rng := decision.KindRanges[decision.KindLeaf]
	for i, c := range leaves {
		// 97-99 are reserved for synthesized leaves.
		prec := rng.Min + i
		if prec > 96 {
			prec = 96
		}
		if c.precedence >= rng.Min && c.precedence <= rng.Max {
			prec = c.precedence
		}
		id := b.addNode(decision.Node{
			Kind: c.kind, Title: c.title, Precedence: prec,
			Outcome: c.outcome, SourceRefs: c.refs,
		})
		if id == "" {
			continue
		}
		r := b.rootFor(c.sectionID)
		if r == nil {
			continue
		}
		r.leaves = append(r.leaves, builtLeaf{
			id: id, kind: c.kind, outcome: c.outcome,
			sectionID: c.sectionID, branchTied: c.branchTied,
		})
	}
}

// synthesize wires each root's subtree and adds the mandatory outcome leaves
// that the source text did not state explicitly.
func (b *treeBuilder) synthesize(required, referralSeen bool) {
	for _, r := range b.roots {
		firstApprove, firstDecline := "", ""
		have := make(map[decision.Outcome]bool)
		for _, l := range r.leaves {
			have[l.outcome] = true
			if l.outcome == decision.OutcomeApprove && firstApprove == "" {
				firstApprove = l.id
			}
			if l.outcome == decision.OutcomeDecline && firstDecline == "" {
				firstDecline = l.id
			}
		}

		for _, br := range r.branches {
			if firstApprove != "" {
				b.edge(br, firstApprove, decision.RelationIfTrue)
			}
			if firstDecline != "" {
				b.edge(br, firstDecline, decision.RelationIfFalse)
			}
		}
		for _, l := range r.leaves {
			switch {
			case len(r.branches) > 0 && (l.id == firstApprove || l.id == firstDecline):
				// Already wired to the branches above.
			case l.kind == decision.KindTerminal && l.branchTied && len(r.branchBySec[l.sectionID]) > 0:
				secBranches := r.branchBySec[l.sectionID]
				b.edge(secBranches[len(secBranches)-1], l.id, decision.RelationExceptionFor)
			default:
				b.edge(r.id, l.id, decision.RelationDefaultPath)
			}
		}

		secID := b.rootSectionID(r)
		if !have[decision.OutcomeApprove] {
			b.addSynthLeaf(r.id, r.title, decision.OutcomeApprove, secID, r.branches)
		}
		if !have[decision.OutcomeDecline] {
			b.addSynthLeaf(r.id, r.title, decision.OutcomeDecline, secID, r.branches)
		}
		if !have[decision.OutcomeRefer] && (required || referralSeen) {
			b.addSynthLeaf(r.id, r.title, decision.OutcomeRefer, secID, nil)
		}
	}
}

func (b *treeBuilder) rootSectionID(r *builtRoot) string {
	if n := b.tree.Nodes[r.id]; n != nil && len(n.SourceRefs) > 0 {
		return n.SourceRefs[0].Section
	}
	return ""
}

// addSynthLeaf creates a templated outcome leaf. With branches present the
// APPROVE leaf hangs off their IF_TRUE side and the DECLINE leaf off
// IF_FALSE; otherwise (and always for REFER) the root gets a DEFAULT_PATH.
func (b *treeBuilder) addSynthLeaf(rootID, rootTitle string, outcome decision.Outcome, secID string, branches []string) string {
	kind := decision.KindLeaf
	prec, suffix := 98, " - Approved"
	switch outcome {
	case decision.OutcomeDecline:
		prec, suffix = 99, " - Declined"
	case decision.OutcomeRefer:
		kind = decision.KindTerminal
		prec, suffix = 97, " - Referred"
	}
	refs := []decision.SourceRef{}
	if secID != "" {
		refs = append(refs, decision.SourceRef{Section: secID, Confidence: 0.3})
	}
	id := b.addNode(decision.Node{
		Kind: kind, Title: rootTitle + suffix, Precedence: prec,
		Outcome: outcome, SourceRefs: refs,
	})
	if id == "" {
		return ""
	}
	rel := decision.RelationIfTrue
	if outcome == decision.OutcomeDecline {
		rel = decision.RelationIfFalse
	}
	if outcome != decision.OutcomeRefer && len(branches) > 0 {
		for _, br := range branches {
			b.edge(br, id, rel)
		}
	} else {
		b.edge(rootID, id, decision.RelationDefaultPath)
	}
	return id
}

// applyLLMEdges resolves model-proposed edges by node title. Edges that
// reference unknown titles, start at a leaf, or would close a cycle are
// skipped.
func (b *treeBuilder) applyLLMEdges(edges []llm.EdgeCandidate) {
	for _, e := range edges {
		from, okFrom := b.titleIdx[normalizeTitle(e.From)]
		to, okTo := b.titleIdx[normalizeTitle(e.To)]
		if !okFrom || !okTo || from == to {
			continue
		}
		if b.reachable(to, from) {
			continue
		}
		b.edge(from, to, decision.Relation(e.Relation))
	}
}

// reachable reports whether to is reachable from from along current edges.
func (b *treeBuilder) reachable(from, to string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, next := range b.tree.ChildrenOf(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
