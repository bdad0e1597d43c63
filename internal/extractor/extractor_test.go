package extractor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/llm"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pattern"
)

func boolPtr(b bool) *bool { return &b }

func newTestExtractor(t *testing.T, cfg Config) *Extractor {
	t.Helper()
	m, err := pattern.NewMatcher(pattern.DefaultVocabulary())
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return New(m, cfg)
}

func guidelinesDoc(title string, sections ...*navtree.Section) *navtree.Document {
	return &navtree.Document{Title: title, Type: navtree.TypeGuidelines, Sections: sections}
}

func countKind(tree *decision.Tree, k decision.Kind) int {
	n := 0
	for _, node := range tree.Nodes {
		if node.Kind == k {
			n++
		}
	}
	return n
}

func findByTitle(tree *decision.Tree, title string) *decision.Node {
	for _, n := range tree.Nodes {
		if n.Title == title {
			return n
		}
	}
	return nil
}

func hasEdge(tree *decision.Tree, from, to string, rel decision.Relation) bool {
	for _, e := range tree.Edges {
		if e.From == from && e.To == to && e.Relation == rel {
			return true
		}
	}
	return false
}

func TestExtractGroup_BinarySplitFromComplementaryThresholds(t *testing.T) {
	sec := &navtree.Section{
		ID:    "sec-0001",
		Title: "Borrower Eligibility Requirements",
		Text:  "If FICO >= 620 the loan is approved. If FICO < 620 the loan is declined.",
		Level: 1,
		Order: 1,
	}
	doc := guidelinesDoc("Conventional Guide", sec)
	e := newTestExtractor(t, Config{RequireReferralPath: boolPtr(false)})

	res, err := e.ExtractGroup(doc, []SectionInput{{Section: sec}})
	if err != nil {
		t.Fatalf("ExtractGroup: %v", err)
	}

	tree := res.Tree
	if got := countKind(tree, decision.KindRoot); got != 1 {
		t.Errorf("expected 1 ROOT, got %d", got)
	}
	if got := countKind(tree, decision.KindBranch); got != 1 {
		t.Errorf("expected complementary thresholds to fold into 1 BRANCH, got %d", got)
	}
	if got := countKind(tree, decision.KindLeaf); got != 2 {
		t.Errorf("expected 2 LEAF nodes, got %d", got)
	}
	if res.RequireReferralPath {
		t.Error("expected referral path not required")
	}

	root := findByTitle(tree, "Borrower Eligibility Requirements")
	if root == nil {
		t.Fatal("missing root node")
	}
	branch := findByTitle(tree, "FICO >= 620")
	if branch == nil {
		t.Fatal("missing folded branch node")
	}
	if branch.Condition != "FICO >= 620" {
		t.Errorf("branch condition = %q", branch.Condition)
	}
	if !hasEdge(tree, root.ID, branch.ID, decision.RelationLeadsTo) {
		t.Error("missing root -> branch LEADS_TO edge")
	}

	// The branch must have an IF_TRUE side and an IF_FALSE side.
	var ifTrue, ifFalse bool
	for _, ed := range tree.Edges {
		if ed.From == branch.ID && ed.Relation == decision.RelationIfTrue {
			ifTrue = true
		}
		if ed.From == branch.ID && ed.Relation == decision.RelationIfFalse {
			ifFalse = true
		}
	}
	if !ifTrue || !ifFalse {
		t.Errorf("branch sides: ifTrue=%v ifFalse=%v", ifTrue, ifFalse)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestExtractGroup_GuidelinesDefaultRequiresReferral(t *testing.T) {
	sec := &navtree.Section{
		ID:    "sec-0001",
		Title: "Borrower Eligibility Requirements",
		Text:  "If FICO >= 620 the loan is approved. If FICO < 620 the loan is declined.",
		Order: 1,
	}
	doc := guidelinesDoc("Conventional Guide", sec)
	e := newTestExtractor(t, Config{})

	res, err := e.ExtractGroup(doc, []SectionInput{{Section: sec}})
	if err != nil {
		t.Fatalf("ExtractGroup: %v", err)
	}
	if !res.RequireReferralPath {
		t.Fatal("guidelines documents default to a required referral path")
	}

	refer := findByTitle(res.Tree, "Borrower Eligibility Requirements - Referred")
	if refer == nil {
		t.Fatal("expected synthesized REFER terminal")
	}
	if refer.Kind != decision.KindTerminal || refer.Outcome != decision.OutcomeRefer {
		t.Errorf("synth refer: kind=%s outcome=%s", refer.Kind, refer.Outcome)
	}
	if refer.Precedence != 97 {
		t.Errorf("expected synthesized REFER precedence 97, got %d", refer.Precedence)
	}
}

func TestExtractGroup_SynthesizedLeavesWhenOutcomesUnstated(t *testing.T) {
	sec := &navtree.Section{
		ID:    "sec-0001",
		Title: "Credit Requirements",
		Text:  "Minimum credit score of 640 applies to all qualifying borrowers.",
		Order: 1,
	}
	doc := guidelinesDoc("Guide", sec)
	e := newTestExtractor(t, Config{RequireReferralPath: boolPtr(false)})

	res, err := e.ExtractGroup(doc, []SectionInput{{Section: sec}})
	if err != nil {
		t.Fatalf("ExtractGroup: %v", err)
	}

	approve := findByTitle(res.Tree, "Credit Requirements - Approved")
	decline := findByTitle(res.Tree, "Credit Requirements - Declined")
	if approve == nil || decline == nil {
		t.Fatal("expected synthesized APPROVE and DECLINE leaves")
	}
	if approve.Precedence != 98 || decline.Precedence != 99 {
		t.Errorf("synth precedences: approve=%d decline=%d", approve.Precedence, decline.Precedence)
	}

	// With a branch present, the synthesized leaves hang off its sides.
	branch := findByTitle(res.Tree, "FICO >= 640")
	if branch == nil {
		t.Fatal("expected threshold branch")
	}
	if !hasEdge(res.Tree, branch.ID, approve.ID, decision.RelationIfTrue) {
		t.Error("expected branch IF_TRUE to synthesized approve leaf")
	}
	if !hasEdge(res.Tree, branch.ID, decline.ID, decision.RelationIfFalse) {
		t.Error("expected branch IF_FALSE to synthesized decline leaf")
	}
}

func TestExtractGroup_SkeletonOnZeroRoots(t *testing.T) {
	// A threshold with no outcome language and no policy framing: decision
	// signal without ROOT candidacy.
	sec := &navtree.Section{
		ID:    "sec-0001",
		Title: "LTV Limits",
		Text:  "Maximum LTV of 95 on all purchase transactions.",
		Order: 1,
	}
	doc := guidelinesDoc("Guide", sec)
	e := newTestExtractor(t, Config{RequireReferralPath: boolPtr(false)})

	res, err := e.ExtractGroup(doc, []SectionInput{{Section: sec}})
	if err != nil {
		t.Fatalf("ExtractGroup: %v", err)
	}

	var lowConf bool
	for _, w := range res.Warnings {
		if w.Code == WarnLowConfidence {
			lowConf = true
		}
	}
	if !lowConf {
		t.Error("expected LowConfidenceExtraction warning on skeleton")
	}

	tree := res.Tree
	if len(tree.RootIDs) != 1 {
		t.Fatalf("expected a single skeleton root, got %v", tree.RootIDs)
	}
	root := tree.Nodes[tree.RootIDs[0]]
	if root.Title != "LTV Limits" {
		t.Errorf("skeleton root title = %q", root.Title)
	}
	if findByTitle(tree, "LTV Limits - Approved") == nil || findByTitle(tree, "LTV Limits - Declined") == nil {
		t.Error("expected mandatory outcome leaves on skeleton")
	}
	if findByTitle(tree, "LTV Limits - Referred") != nil {
		t.Error("REFER leaf must not appear when referral path is not required")
	}
}

func TestExtractGroup_DedupNearIdenticalTitles(t *testing.T) {
	sec := &navtree.Section{ID: "sec-0001", Title: "Approval", Text: "", Order: 1}
	doc := guidelinesDoc("Guide", sec)
	e := newTestExtractor(t, Config{RequireReferralPath: boolPtr(false)})

	in := SectionInput{
		Section: sec,
		Candidates: llm.Candidates{
			Nodes: []llm.NodeCandidate{
				{Kind: "ROOT", Title: "Program Eligibility", Confidence: 0.9},
				{Kind: "LEAF", Title: "Loan Approved", Outcome: "APPROVE", Confidence: 0.8},
				{Kind: "LEAF", Title: "loan  approved", Outcome: "APPROVE", Confidence: 0.6},
			},
		},
		Report: llm.Report{StrategyUsed: 1},
	}

	res, err := e.ExtractGroup(doc, []SectionInput{in})
	if err != nil {
		t.Fatalf("ExtractGroup: %v", err)
	}

	var approveLeaves []*decision.Node
	for _, n := range res.Tree.Nodes {
		if n.Kind == decision.KindLeaf && n.Outcome == decision.OutcomeApprove {
			approveLeaves = append(approveLeaves, n)
		}
	}
	if len(approveLeaves) != 1 {
		t.Fatalf("expected duplicate titles to merge into 1 approve leaf, got %d", len(approveLeaves))
	}
	// Merge keeps the first title.
	if approveLeaves[0].Title != "Loan Approved" {
		t.Errorf("expected surviving title %q, got %q", "Loan Approved", approveLeaves[0].Title)
	}
}

func TestExtractGroup_MatrixReferralDerivation(t *testing.T) {
	plain := &navtree.Section{
		ID: "sec-0001", Title: "Rows 2-3",
		Text: "Headers: FICO, Decision\n\nFICO >= 620, approved", Order: 1,
	}
	withException := &navtree.Section{
		ID: "sec-0001", Title: "Rows 2-3",
		Text: "Headers: FICO, Decision\n\nFICO >= 620, approved\nBelow band requires manual review", Order: 1,
	}

	e := newTestExtractor(t, Config{})

	matrixDoc := func(s *navtree.Section) *navtree.Document {
		return &navtree.Document{Title: "Matrix", Type: navtree.TypeMatrix, Sections: []*navtree.Section{s}}
	}

	res, err := e.ExtractGroup(matrixDoc(plain), []SectionInput{{Section: plain}})
	if err != nil {
		t.Fatalf("ExtractGroup(plain): %v", err)
	}
	if res.RequireReferralPath {
		t.Error("matrix without referral language must not require a referral path")
	}

	res, err = e.ExtractGroup(matrixDoc(withException), []SectionInput{{Section: withException}})
	if err != nil {
		t.Fatalf("ExtractGroup(exception): %v", err)
	}
	if !res.RequireReferralPath {
		t.Error("matrix mentioning manual review must require a referral path")
	}
}

func TestExtractGroup_LLMEdgesResolvedWithCycleGuard(t *testing.T) {
	sec := &navtree.Section{ID: "sec-0001", Title: "Overview", Text: "", Order: 1}
	doc := guidelinesDoc("Guide", sec)
	e := newTestExtractor(t, Config{RequireReferralPath: boolPtr(false)})

	in := SectionInput{
		Section: sec,
		Candidates: llm.Candidates{
			Nodes: []llm.NodeCandidate{
				{Kind: "ROOT", Title: "Program Eligibility", Confidence: 0.9},
				{Kind: "BRANCH", Title: "FICO Check", Condition: "FICO >= 620", Confidence: 0.8},
				{Kind: "BRANCH", Title: "LTV Check", Condition: "LTV <= 95", Confidence: 0.8},
			},
			Edges: []llm.EdgeCandidate{
				{From: "FICO Check", To: "LTV Check", Relation: "LEADS_TO"},
				{From: "LTV Check", To: "FICO Check", Relation: "LEADS_TO"},
			},
		},
		Report: llm.Report{StrategyUsed: 1},
	}

	res, err := e.ExtractGroup(doc, []SectionInput{in})
	if err != nil {
		t.Fatalf("ExtractGroup: %v", err)
	}

	fico := findByTitle(res.Tree, "FICO Check")
	ltv := findByTitle(res.Tree, "LTV Check")
	if fico == nil || ltv == nil {
		t.Fatal("missing branch nodes")
	}
	if !hasEdge(res.Tree, fico.ID, ltv.ID, decision.RelationLeadsTo) {
		t.Error("expected model-proposed FICO -> LTV edge")
	}
	if hasEdge(res.Tree, ltv.ID, fico.ID, decision.RelationLeadsTo) {
		t.Error("reverse edge would close a cycle and must be skipped")
	}
}

func TestExtractGroup_RootCap(t *testing.T) {
	var inputs []SectionInput
	var secs []*navtree.Section
	titles := []string{
		"Borrower Eligibility Requirements",
		"Property Eligibility Requirements",
		"Income Qualification Guidelines",
		"Asset Qualification Guidelines",
		"Occupancy Requirements",
	}
	for i, title := range titles {
		s := &navtree.Section{
			ID:    fmt.Sprintf("sec-%04d", i+1),
			Title: title,
			Text:  "Borrower must meet policy criteria.",
			Order: i + 1,
		}
		secs = append(secs, s)
		inputs = append(inputs, SectionInput{Section: s})
	}
	doc := guidelinesDoc("Guide", secs...)
	e := newTestExtractor(t, Config{RequireReferralPath: boolPtr(false)})

	res, err := e.ExtractGroup(doc, inputs)
	if err != nil {
		t.Fatalf("ExtractGroup: %v", err)
	}
	if got := countKind(res.Tree, decision.KindRoot); got != 3 {
		t.Errorf("expected the default cap of 3 roots, got %d", got)
	}
}

func TestExtractGroup_NoSections(t *testing.T) {
	e := newTestExtractor(t, Config{})
	if _, err := e.ExtractGroup(guidelinesDoc("Guide"), nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestDecisionBearing(t *testing.T) {
	e := newTestExtractor(t, Config{})
	tests := []struct {
		name string
		sec  *navtree.Section
		want bool
	}{
		{
			name: "threshold text",
			sec:  &navtree.Section{Text: "Minimum FICO of 620 required."},
			want: true,
		},
		{
			name: "framing title only",
			sec:  &navtree.Section{Title: "Borrower Eligibility", Text: "See details in section 4."},
			want: true,
		},
		{
			name: "neutral text",
			sec:  &navtree.Section{Title: "Contact", Text: "Call the branch office for assistance."},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.DecisionBearing(tt.sec, navtree.TypeGuidelines); got != tt.want {
				t.Errorf("DecisionBearing = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStrategyFactor(t *testing.T) {
	if f := strategyFactor(1); f != 1.0 {
		t.Errorf("strategy 1: got %v", f)
	}
	if f := strategyFactor(2); f != 0.9 {
		t.Errorf("strategy 2: got %v", f)
	}
	if f := strategyFactor(3); f != 0.75 {
		t.Errorf("strategy 3: got %v", f)
	}
}

func TestCapTitle(t *testing.T) {
	long := strings.Repeat("alpha beta ", 20)
	got := capTitle(long, 80)
	if len(got) > 80 {
		t.Errorf("capTitle exceeded max: %d", len(got))
	}
	if strings.HasSuffix(got, " ") {
		t.Errorf("capTitle left trailing space: %q", got)
	}
	if capTitle("short title", 80) != "short title" {
		t.Error("short titles must pass through")
	}
}
