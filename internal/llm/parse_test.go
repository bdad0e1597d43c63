package llm

import (
	"errors"
	"testing"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pattern"
)

func testMatcher(t *testing.T) *pattern.Matcher {
	t.Helper()
	m, err := pattern.NewMatcher(pattern.DefaultVocabulary())
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

const strictResponse = `{
  "nodes": [
    {"kind": "ROOT", "title": "FHA Eligibility", "confidence": 0.9},
    {"kind": "BRANCH", "title": "FICO check", "condition": "FICO >= 580", "confidence": 0.8},
    {"kind": "LEAF", "title": "Approved", "outcome": "APPROVE", "confidence": 0.85}
  ],
  "edges": [
    {"from": "FHA Eligibility", "to": "FICO check", "relation": "LEADS_TO"},
    {"from": "FICO check", "to": "Approved", "relation": "IF_TRUE"}
  ]
}`

func TestParseCandidates_StrictJSON(t *testing.T) {
	cands, report, err := ParseCandidates(strictResponse, testMatcher(t), navtree.TypeGuidelines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.StrategyUsed != 1 {
		t.Errorf("expected strategy 1, got %d", report.StrategyUsed)
	}
	if report.DroppedRecordCount != 0 {
		t.Errorf("expected 0 drops, got %d", report.DroppedRecordCount)
	}
	if len(cands.Nodes) != 3 || len(cands.Edges) != 2 {
		t.Errorf("got %d nodes, %d edges", len(cands.Nodes), len(cands.Edges))
	}
}

func TestParseCandidates_Idempotent(t *testing.T) {
	m := testMatcher(t)
	c1, r1, err1 := ParseCandidates(strictResponse, m, navtree.TypeGuidelines)
	c2, r2, err2 := ParseCandidates(strictResponse, m, navtree.TypeGuidelines)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if r1 != r2 {
		t.Errorf("reports differ: %+v vs %+v", r1, r2)
	}
	if len(c1.Nodes) != len(c2.Nodes) || len(c1.Edges) != len(c2.Edges) {
		t.Error("candidate sets differ between identical parses")
	}
	for i := range c1.Nodes {
		if c1.Nodes[i] != c2.Nodes[i] {
			t.Errorf("node %d differs: %+v vs %+v", i, c1.Nodes[i], c2.Nodes[i])
		}
	}
}

func TestParseCandidates_CodeFence(t *testing.T) {
	raw := "Here is the extraction you asked for:\n\n```json\n" + strictResponse + "\n```\n\nLet me know if you need anything else."
	cands, report, err := ParseCandidates(raw, testMatcher(t), navtree.TypeGuidelines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.StrategyUsed != 2 {
		t.Errorf("expected strategy 2 for fenced response, got %d", report.StrategyUsed)
	}
	if len(cands.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(cands.Nodes))
	}
}

func TestParseCandidates_TrailingCommas(t *testing.T) {
	// Trailing commas fail strict parsing; the balanced-object strategy
	// repairs them.
	raw := `prose before {"nodes": [{"kind": "ROOT", "title": "R", "confidence": 0.9},]} prose after`
	cands, report, err := ParseCandidates(raw, testMatcher(t), navtree.TypeGuidelines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.StrategyUsed != 2 {
		t.Errorf("expected strategy 2, got %d", report.StrategyUsed)
	}
	if len(cands.Nodes) != 1 || cands.Nodes[0].Title != "R" {
		t.Errorf("unexpected nodes: %+v", cands.Nodes)
	}
}

func TestParseCandidates_BracesInsideStrings(t *testing.T) {
	raw := `{"nodes": [{"kind": "BRANCH", "title": "brace {not} structural", "condition": "x", "confidence": 0.5}], "edges": []}`
	cands, report, err := ParseCandidates("noise "+raw, testMatcher(t), navtree.TypeGuidelines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.StrategyUsed != 2 {
		t.Errorf("expected strategy 2, got %d", report.StrategyUsed)
	}
	if len(cands.Nodes) != 1 || cands.Nodes[0].Title != "brace {not} structural" {
		t.Errorf("unexpected nodes: %+v", cands.Nodes)
	}
}

func TestParseCandidates_TruncatedFallsBackToPatterns(t *testing.T) {
	// A truncated completion: unbalanced JSON, but the prose still carries
	// decision language the matcher can salvage.
	raw := `{"nodes": [{"kind": "BRANCH", "title": "FICO >= 620 means the loan is approved", "condi`
	cands, report, err := ParseCandidates(raw, testMatcher(t), navtree.TypeGuidelines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.StrategyUsed != 3 {
		t.Errorf("expected strategy 3, got %d", report.StrategyUsed)
	}
	var branches, leaves int
	for _, n := range cands.Nodes {
		switch n.Kind {
		case "BRANCH":
			branches++
			if n.Condition != "FICO >= 620" {
				t.Errorf("expected salvaged condition, got %q", n.Condition)
			}
		case "LEAF":
			leaves++
		}
	}
	if branches != 1 || leaves != 1 {
		t.Errorf("expected 1 branch and 1 leaf, got %d and %d", branches, leaves)
	}
}

func TestParseCandidates_AllStrategiesFail(t *testing.T) {
	_, _, err := ParseCandidates("the quick brown fox", testMatcher(t), navtree.TypeGuidelines)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParseCandidates_EmptyResponse(t *testing.T) {
	_, _, err := ParseCandidates("", testMatcher(t), navtree.TypeGuidelines)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError for empty response, got %v", err)
	}
}

func TestParseCandidates_SchemaDrops(t *testing.T) {
	raw := `{
  "nodes": [
    {"kind": "ROOT", "title": "Keep", "confidence": 0.9},
    {"kind": "GATEWAY", "title": "unknown kind"},
    {"kind": "LEAF", "title": "no outcome"},
    {"kind": "LEAF", "title": "bad outcome", "outcome": "MAYBE"},
    {"kind": "TERMINAL", "title": "bad terminal", "outcome": "APPROVE"},
    {"kind": "BRANCH", "title": "outcome on branch", "condition": "x", "outcome": "APPROVE"},
    {"kind": "BRANCH", "title": "", "condition": ""},
    {"kind": "BRANCH", "title": "bad precedence", "condition": "x", "precedence": 95},
    {"kind": "leaf", "title": "case insensitive", "outcome": "refer", "confidence": 2.0}
  ],
  "edges": [
    {"from": "Keep", "to": "case insensitive", "relation": "leads_to"},
    {"from": "Keep", "to": "x", "relation": "POINTS_AT"},
    {"from": "", "to": "x", "relation": "LEADS_TO"}
  ]
}`
	cands, report, err := ParseCandidates(raw, testMatcher(t), navtree.TypeGuidelines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.StrategyUsed != 1 {
		t.Errorf("expected strategy 1, got %d", report.StrategyUsed)
	}
	if len(cands.Nodes) != 2 {
		t.Fatalf("expected 2 surviving nodes, got %d: %+v", len(cands.Nodes), cands.Nodes)
	}
	if report.DroppedRecordCount != 9 {
		t.Errorf("expected 9 dropped records, got %d", report.DroppedRecordCount)
	}
	// Normalization: kind and outcome upper-cased, confidence clamped.
	last := cands.Nodes[1]
	if last.Kind != "LEAF" || last.Outcome != "REFER" {
		t.Errorf("expected normalized LEAF/REFER, got %s/%s", last.Kind, last.Outcome)
	}
	if last.Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %v", last.Confidence)
	}
	if len(cands.Edges) != 1 || cands.Edges[0].Relation != "LEADS_TO" {
		t.Errorf("expected 1 normalized edge, got %+v", cands.Edges)
	}
}
