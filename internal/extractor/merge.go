package extractor

import (
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
)

// mergeCandidates folds near-duplicate candidates: same kind (and, for
// terminal kinds, same outcome) with title token-set Jaccard similarity at
// or above threshold, or branches with an identical normalized condition.
// The survivor keeps its earlier title and order, takes the higher
// confidence, and unions source references.
func mergeCandidates(cands []*candidate, threshold float64) []*candidate {
	var out []*candidate
	for _, c := range cands {
		merged := false
		for _, prev := range out {
			if !sameNode(prev, c, threshold) {
				continue
			}
			if c.confidence > prev.confidence {
				prev.confidence = c.confidence
			}
			if prev.condition == "" {
				prev.condition = c.condition
			}
			if prev.precedence == 0 {
				prev.precedence = c.precedence
			}
			prev.branchTied = prev.branchTied || c.branchTied
			prev.refs = unionRefs(prev.refs, c.refs)
			merged = true
			break
		}
		if !merged {
			out = append(out, c)
		}
	}
	return out
}

func sameNode(a, b *candidate, threshold float64) bool {
	if a.kind != b.kind || a.outcome != b.outcome {
		return false
	}
	if a.kind == decision.KindBranch {
		ca, cb := normalizeTitle(a.condition), normalizeTitle(b.condition)
		if ca != "" && ca == cb {
			return true
		}
	}
	return jaccard(tokenSet(a.title), tokenSet(b.title)) >= threshold
}

func unionRefs(a, b []decision.SourceRef) []decision.SourceRef {
	seen := make(map[string]int, len(a))
	for i, r := range a {
		seen[r.Section] = i
	}
	for _, r := range b {
		if i, ok := seen[r.Section]; ok {
			if r.Confidence > a[i].Confidence {
				a[i].Confidence = r.Confidence
			}
			continue
		}
		seen[r.Section] = len(a)
		a = append(a, r)
	}
	return a
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()\"'")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
