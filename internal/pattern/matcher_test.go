package pattern

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(DefaultVocabulary())
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func thresholds(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Kind == KindThresholdNumeric {
			out = append(out, c)
		}
	}
	return out
}

func TestMatcher_SymbolicThreshold(t *testing.T) {
	m := newTestMatcher(t)
	got := thresholds(m.Match("Minimum FICO >= 620 required for all borrowers.", navtree.TypeGuidelines))
	if len(got) != 1 {
		t.Fatalf("expected 1 threshold, got %d", len(got))
	}
	c := got[0]
	if c.Metric != "FICO" || c.Operator != ">=" || c.Value != 620 {
		t.Errorf("got %s %s %v", c.Metric, c.Operator, c.Value)
	}
	if c.Condition() != "FICO >= 620" {
		t.Errorf("Condition() = %q", c.Condition())
	}
	if c.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9 for guidelines, got %v", c.Confidence)
	}
}

func TestMatcher_WordOperators(t *testing.T) {
	m := newTestMatcher(t)
	tests := []struct {
		text   string
		metric string
		op     string
		value  float64
	}{
		{"minimum credit score of 620", "FICO", ">=", 620},
		{"DTI must be no more than 43%", "DTI", "<=", 43},
		{"LTV maximum of 95", "LTV", "<=", 95},
		{"debt ratio above 50 requires review", "DTI", ">", 50},
		{"loan-to-value below 80", "LTV", "<", 80},
		{"CLTV not to exceed 105", "CLTV", "<=", 105},
	}
	for _, tt := range tests {
		got := thresholds(m.Match(tt.text, navtree.TypeGuidelines))
		if len(got) != 1 {
			t.Errorf("%q: expected 1 threshold, got %d", tt.text, len(got))
			continue
		}
		c := got[0]
		if c.Metric != tt.metric || c.Operator != tt.op || c.Value != tt.value {
			t.Errorf("%q: got %s %s %v, want %s %s %v",
				tt.text, c.Metric, c.Operator, c.Value, tt.metric, tt.op, tt.value)
		}
	}
}

func TestMatcher_RangeYieldsTwoBounds(t *testing.T) {
	m := newTestMatcher(t)
	got := thresholds(m.Match("FICO from 620 to 680 requires compensating factors.", navtree.TypeGuidelines))
	if len(got) != 2 {
		t.Fatalf("expected 2 bound candidates, got %d", len(got))
	}
	if got[0].Operator != ">=" || got[0].Value != 620 {
		t.Errorf("lower bound: got %s %v", got[0].Operator, got[0].Value)
	}
	if got[1].Operator != "<=" || got[1].Value != 680 {
		t.Errorf("upper bound: got %s %v", got[1].Operator, got[1].Value)
	}
	// The hyphenated form behaves the same.
	got = thresholds(m.Match("Credit score 620-680 band.", navtree.TypeGuidelines))
	if len(got) != 2 {
		t.Fatalf("hyphen range: expected 2 candidates, got %d", len(got))
	}
	for _, c := range got {
		if c.Metric != "FICO" {
			t.Errorf("expected canonical metric FICO, got %q", c.Metric)
		}
	}
}

func TestMatcher_MatrixHintRaisesThresholdConfidence(t *testing.T) {
	m := newTestMatcher(t)
	got := thresholds(m.Match("FICO >= 620", navtree.TypeMatrix))
	if len(got) != 1 {
		t.Fatalf("expected 1 threshold, got %d", len(got))
	}
	if got[0].Confidence != 0.95 {
		t.Errorf("expected confidence 0.95 for matrix, got %v", got[0].Confidence)
	}
}

func TestMatcher_ConnectivesAndOutcomes(t *testing.T) {
	m := newTestMatcher(t)
	cands := m.Match("If the loan is approved, close within 30 days unless the underwriter objects.", navtree.TypeGuidelines)

	var connectives, approvals int
	for _, c := range cands {
		switch c.Kind {
		case KindConditionalConnective:
			connectives++
		case KindApprovalLanguage:
			approvals++
			if c.Outcome != decision.OutcomeApprove {
				t.Errorf("approval candidate outcome = %q", c.Outcome)
			}
		}
	}
	if connectives != 2 {
		t.Errorf("expected 2 connectives (if, unless), got %d", connectives)
	}
	if approvals != 1 {
		t.Errorf("expected 1 approval candidate, got %d", approvals)
	}

	// Candidates come back in positional order.
	for i := 1; i < len(cands); i++ {
		if cands[i].Offset < cands[i-1].Offset {
			t.Fatalf("candidates out of order at %d: %v", i, cands)
		}
	}
}

func TestMatcher_NegatedApproval(t *testing.T) {
	m := newTestMatcher(t)
	cands := m.Match("Borrowers with prior foreclosure are not eligible.", navtree.TypeGuidelines)

	var decl, appr int
	for _, c := range cands {
		switch c.Kind {
		case KindDeclineLanguage:
			decl++
			if c.Outcome != decision.OutcomeDecline {
				t.Errorf("decline candidate outcome = %q", c.Outcome)
			}
		case KindApprovalLanguage:
			appr++
		}
	}
	if decl != 1 {
		t.Errorf("expected 1 decline candidate, got %d", decl)
	}
	if appr != 0 {
		t.Errorf("negated approval must not yield an approval candidate, got %d", appr)
	}
}

func TestMatcher_ReferralLanguage(t *testing.T) {
	m := newTestMatcher(t)
	cands := m.Match("Files in this band require manual review by an underwriter.", navtree.TypeGuidelines)

	found := false
	for _, c := range cands {
		if c.Kind == KindReferralLanguage && c.Outcome == decision.OutcomeRefer {
			found = true
		}
	}
	if !found {
		t.Error("expected a referral candidate")
	}
	if !m.HasReferralLanguage("escalate to second-level review") {
		t.Error("HasReferralLanguage should match escalation language")
	}
	if m.HasReferralLanguage("standard closing timeline applies") {
		t.Error("HasReferralLanguage matched neutral text")
	}
}

func TestMatcher_PolicyFraming(t *testing.T) {
	m := newTestMatcher(t)
	if !m.HasPolicyFraming("Borrower Eligibility Requirements") {
		t.Error("expected framing match on eligibility heading")
	}
	if m.HasPolicyFraming("Table of Contents") {
		t.Error("unexpected framing match on neutral heading")
	}
}

func TestMatcher_EmptyResultIsValid(t *testing.T) {
	m := newTestMatcher(t)
	cands := m.Match("The settlement agent records the deed at closing.", navtree.TypeGuidelines)
	if len(cands) != 0 {
		t.Errorf("expected no candidates for neutral text, got %v", cands)
	}
}

func TestLoadVocabulary_Overlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yaml")
	content := `
metrics:
  RESERVES: ["months of reserves", "reserves"]
approval: ["greenlit"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	vocab, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}
	if _, ok := vocab.Metrics["RESERVES"]; !ok {
		t.Error("expected overridden metrics")
	}
	if len(vocab.Approval) != 1 || vocab.Approval[0] != "greenlit" {
		t.Errorf("expected overridden approval list, got %v", vocab.Approval)
	}
	// Untouched fields keep defaults.
	if len(vocab.Connectives) == 0 {
		t.Error("expected default connectives to survive overlay")
	}

	m, err := NewMatcher(vocab)
	if err != nil {
		t.Fatalf("NewMatcher with overlay: %v", err)
	}
	got := thresholds(m.Match("reserves >= 6", navtree.TypeGuidelines))
	if len(got) != 1 || got[0].Metric != "RESERVES" {
		t.Errorf("expected RESERVES threshold, got %v", got)
	}
}

func TestLoadVocabulary_MissingFile(t *testing.T) {
	_, err := LoadVocabulary("/nonexistent/vocab.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
