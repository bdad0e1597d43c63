// Package extractor builds decision trees from a document's navigation
// sections. It combines vocabulary-matcher candidates with language-model
// candidates, caps ROOT nodes per section group, synthesizes the mandatory
// APPROVE/DECLINE (and, where required, REFER) leaves, wires edges, and
// merges near-duplicate nodes before the tree is handed to the validator.
package extractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/llm"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pattern"
)

// Config controls extraction policy. The zero value gets sane defaults.
type Config struct {
	// RequireReferralPath forces a REFER path under every root. Nil derives
	// the flag from the document type: true for guidelines, true for a
	// matrix only when its text mentions exceptions or referral.
	RequireReferralPath *bool

	// MaxRoots caps ROOT candidates per section group (at most 5, the
	// width of the ROOT precedence band).
	MaxRoots int

	// DedupThreshold is the token-set Jaccard similarity at or above which
	// two candidate titles are treated as the same node.
	DedupThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MaxRoots <= 0 || c.MaxRoots > 5 {
		c.MaxRoots = 3
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		c.DedupThreshold = 0.8
	}
	return c
}

// SectionInput is one decision-bearing section plus whatever the
// language-model pass salvaged for it. Candidates may be empty: a section
// whose completion failed to parse still goes through matcher extraction.
type SectionInput struct {
	Section    *navtree.Section
	Candidates llm.Candidates
	Report     llm.Report
}

// Warning is a non-fatal quality signal surfaced in extraction output.
type Warning struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Warning codes.
const (
	WarnLowConfidence    = "LowConfidenceExtraction"
	WarnCandidateDropped = "CandidateDropped"
)

// Result is one extracted tree plus its extraction-level metadata.
type Result struct {
	Tree                *decision.Tree
	Warnings            []Warning
	RequireReferralPath bool
}

// Extractor turns matched and parsed candidates into decision trees. One
// instance per document; it holds no per-call state.
type Extractor struct {
	matcher *pattern.Matcher
	cfg     Config
}

func New(m *pattern.Matcher, cfg Config) *Extractor {
	return &Extractor{matcher: m, cfg: cfg.withDefaults()}
}

// DecisionBearing reports whether a section contains decision language
// worth extracting.
func (e *Extractor) DecisionBearing(sec *navtree.Section, hint navtree.DocType) bool {
	if len(e.matcher.Match(sec.Text, hint)) > 0 {
		return true
	}
	return e.matcher.HasPolicyFraming(sec.Title + " " + sec.Text)
}

// candidate is the extractor's working representation of a proposed node,
// before dedup and tree construction.
type candidate struct {
	kind       decision.Kind
	title      string
	condition  string
	outcome    decision.Outcome
	confidence float64
	refs       []decision.SourceRef
	order      int
	sectionID  string
	precedence int  // 0 means unassigned
	branchTied bool // referral language inside a conditional clause
}

// ExtractGroup builds one tree from the decision-bearing sections of a
// section group. The caller runs language-model calls per section however it
// likes; this merge step is single-threaded per document.
func (e *Extractor) ExtractGroup(doc *navtree.Document, inputs []SectionInput) (*Result, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("extract group: no sections")
	}
	required := e.referralRequired(doc, inputs)

	var (
		cands        []*candidate
		llmEdges     []llm.EdgeCandidate
		referralSeen bool
		order        int
	)
	add := func(c candidate) {
		c.order = order
		order++
		cands = append(cands, &c)
	}

	for _, in := range inputs {
		sec := in.Section
		matches := e.matcher.Match(sec.Text, doc.Type)

		var thresholds, connectives, outcomes []pattern.Candidate
		for _, m := range matches {
			switch m.Kind {
			case pattern.KindThresholdNumeric:
				thresholds = append(thresholds, m)
			case pattern.KindConditionalConnective:
				connectives = append(connectives, m)
			default:
				outcomes = append(outcomes, m)
			}
		}

		// ROOT candidacy: policy framing language, or a section that
		// states both conditions and outcomes and so is a policy itself.
		if conf := e.rootConfidence(sec, len(thresholds)+len(connectives) > 0, len(outcomes) > 0); conf > 0 {
			add(candidate{
				kind:       decision.KindRoot,
				title:      rootTitle(doc, sec),
				confidence: conf,
				refs:       []decision.SourceRef{{Section: sec.ID, Confidence: conf}},
				sectionID:  sec.ID,
			})
		}

		// BRANCH candidates. Complementary threshold pairs ("FICO >= 620"
		// and "FICO < 620") fold into one binary split; the IF_FALSE edge
		// carries the complement.
		for _, m := range foldComplementary(thresholds) {
			cond := m.Condition()
			add(candidate{
				kind:       decision.KindBranch,
				title:      cond,
				condition:  cond,
				confidence: m.Confidence,
				refs:       []decision.SourceRef{{Section: sec.ID, Confidence: m.Confidence}},
				sectionID:  sec.ID,
			})
		}
		// A connective clause becomes a branch only when no threshold
		// already covers it.
		for _, m := range connectives {
			clause := clauseFrom(sec.Text, m.Offset)
			if clause == "" || thresholdWithin(thresholds, m.Offset, m.Offset+len(clause)) {
				continue
			}
			add(candidate{
				kind:       decision.KindBranch,
				title:      capTitle(clause, 80),
				condition:  clause,
				confidence: m.Confidence,
				refs:       []decision.SourceRef{{Section: sec.ID, Confidence: m.Confidence}},
				sectionID:  sec.ID,
			})
		}

		// Explicit LEAF candidates from outcome vocabulary.
		for _, m := range outcomes {
			kind := decision.KindLeaf
			branchTied := false
			if m.Kind == pattern.KindReferralLanguage {
				kind = decision.KindTerminal
				referralSeen = true
				branchTied = withinConnectiveClause(sec.Text, connectives, m.Offset)
			}
			clause := clauseAround(sec.Text, m.Offset, m.Offset+len(m.Span))
			add(candidate{
				kind:       kind,
				title:      capTitle(clause, 80),
				outcome:    m.Outcome,
				confidence: m.Confidence,
				refs:       []decision.SourceRef{{Section: sec.ID, Confidence: m.Confidence}},
				sectionID:  sec.ID,
				branchTied: branchTied,
			})
		}

		// Language-model candidates, discounted by how hard the
		// completion was to parse.
		factor := strategyFactor(in.Report.StrategyUsed)
		for _, n := range in.Candidates.Nodes {
			kind := decision.Kind(n.Kind)
			conf := n.Confidence * factor
			if n.Confidence == 0 {
				conf = 0.5 * factor
			}
			c := candidate{
				kind:       kind,
				title:      strings.TrimSpace(n.Title),
				condition:  strings.TrimSpace(n.Condition),
				outcome:    decision.Outcome(n.Outcome),
				confidence: conf,
				precedence: n.Precedence,
				refs:       []decision.SourceRef{{Section: sec.ID, Confidence: conf}},
				sectionID:  sec.ID,
			}
			if c.title == "" {
				c.title = c.condition
			}
			if c.title == "" {
				continue
			}
			if kind == decision.KindTerminal {
				referralSeen = true
			}
			add(c)
		}
		llmEdges = append(llmEdges, in.Candidates.Edges...)
	}

	merged := mergeCandidates(cands, e.cfg.DedupThreshold)

	var roots, branches, leaves []*candidate
	for _, c := range merged {
		switch c.kind {
		case decision.KindRoot:
			roots = append(roots, c)
		case decision.KindBranch:
			branches = append(branches, c)
		default:
			leaves = append(leaves, c)
		}
	}

	if len(roots) == 0 {
		return e.skeleton(doc, inputs, required), nil
	}

	sort.SliceStable(roots, func(i, j int) bool {
		if roots[i].confidence != roots[j].confidence {
			return roots[i].confidence > roots[j].confidence
		}
		return roots[i].order < roots[j].order
	})
	if len(roots) > e.cfg.MaxRoots {
		roots = roots[:e.cfg.MaxRoots]
	}

	b := newBuilder(doc)
	b.buildRoots(roots)
	b.buildBranches(branches)
	b.buildLeaves(leaves)
	b.synthesize(required, referralSeen)
	b.applyLLMEdges(llmEdges)

	return &Result{
		Tree:                b.tree,
		Warnings:            b.warnings,
		RequireReferralPath: required,
	}, nil
}

// skeleton is the degrade-gracefully path: a decision-flagged group with no
// ROOT signal still yields a single ROOT plus the mandatory outcome leaves,
// flagged low-confidence so downstream can treat it as weak.
func (e *Extractor) skeleton(doc *navtree.Document, inputs []SectionInput, required bool) *Result {
	b := newBuilder(doc)
	secID := inputs[0].Section.ID
	title := groupTitle(doc, inputs)

	rootID := b.addNode(decision.Node{
		Kind: decision.KindRoot, Title: title, Precedence: 1,
		SourceRefs: []decision.SourceRef{{Section: secID, Confidence: 0.2}},
	})
	b.addSynthLeaf(rootID, title, decision.OutcomeApprove, secID, nil)
	b.addSynthLeaf(rootID, title, decision.OutcomeDecline, secID, nil)
	if required {
		b.addSynthLeaf(rootID, title, decision.OutcomeRefer, secID, nil)
	}

	return &Result{
		Tree: b.tree,
		Warnings: append(b.warnings, Warning{
			Code:   WarnLowConfidence,
			Detail: fmt.Sprintf("no ROOT candidates in %d decision-flagged section(s); synthesized skeleton", len(inputs)),
		}),
		RequireReferralPath: required,
	}
}

func (e *Extractor) rootConfidence(sec *navtree.Section, hasConditions, hasOutcomes bool) float64 {
	if e.matcher.HasPolicyFraming(sec.Title + " " + sec.Text) {
		return 0.9
	}
	if hasConditions && hasOutcomes {
		return 0.7
	}
	return 0
}

func (e *Extractor) referralRequired(doc *navtree.Document, inputs []SectionInput) bool {
	if e.cfg.RequireReferralPath != nil {
		return *e.cfg.RequireReferralPath
	}
	if doc.Type != navtree.TypeMatrix {
		return true
	}
	for _, in := range inputs {
		if e.matcher.HasReferralLanguage(in.Section.Text) {
			return true
		}
	}
	return false
}

func strategyFactor(strategy int) float64 {
	switch strategy {
	case 2:
		return 0.9
	case 3:
		return 0.75
	}
	return 1.0
}

func rootTitle(doc *navtree.Document, sec *navtree.Section) string {
	if sec.Title != "" {
		return sec.Title
	}
	if doc.Title != "" {
		return doc.Title
	}
	return "Qualification Policy"
}

func groupTitle(doc *navtree.Document, inputs []SectionInput) string {
	for _, in := range inputs {
		if in.Section.Title != "" {
			return in.Section.Title
		}
	}
	if doc.Title != "" {
		return doc.Title
	}
	return "Qualification Policy"
}

// foldComplementary merges threshold pairs on the same metric and value with
// opposing operators into the first (positive) threshold.
func foldComplementary(thresholds []pattern.Candidate) []pattern.Candidate {
	complement := map[string]string{">=": "<", "<=": ">", ">": "<=", "<": ">="}
	dropped := make([]bool, len(thresholds))
	for i := range thresholds {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(thresholds); j++ {
			if dropped[j] {
				continue
			}
			a, b := thresholds[i], thresholds[j]
			if a.Metric == b.Metric && a.Value == b.Value && complement[a.Operator] == b.Operator {
				dropped[j] = true
			}
		}
	}
	out := thresholds[:0]
	for i, m := range thresholds {
		if !dropped[i] {
			out = append(out, m)
		}
	}
	return out
}

func thresholdWithin(thresholds []pattern.Candidate, start, end int) bool {
	for _, m := range thresholds {
		if m.Offset >= start && m.Offset < end {
			return true
		}
	}
	return false
}

func withinConnectiveClause(text string, connectives []pattern.Candidate, offset int) bool {
	for _, m := range connectives {
		clause := clauseFrom(text, m.Offset)
		if offset >= m.Offset && offset < m.Offset+len(clause) {
			return true
		}
	}
	return false
}

// clauseFrom returns the clause starting at offset, up to the next sentence
// boundary.
func clauseFrom(text string, offset int) string {
	end := offset
	for end < len(text) && !isClauseBoundary(text[end]) {
		end++
	}
	return strings.TrimSpace(text[offset:end])
}

// clauseAround returns the sentence fragment containing [start,end).
func clauseAround(text string, start, end int) string {
	lo := start
	for lo > 0 && !isClauseBoundary(text[lo-1]) {
		lo--
	}
	hi := end
	for hi < len(text) && !isClauseBoundary(text[hi]) {
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}

func isClauseBoundary(b byte) bool {
	switch b {
	case '.', ';', '!', '?', '\n':
		return true
	}
	return false
}

func capTitle(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max], ' ')
	if cut < max/2 {
		cut = max
	}
	return strings.TrimSpace(s[:cut])
}
