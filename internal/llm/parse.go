package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/pattern"
)

// NodeCandidate is an unvalidated node proposal from a completion.
type NodeCandidate struct {
	Kind       string  `json:"kind"`
	Title      string  `json:"title"`
	Condition  string  `json:"condition"`
	Outcome    string  `json:"outcome"`
	Precedence int     `json:"precedence"`
	Confidence float64 `json:"confidence"`
}

// EdgeCandidate is an unvalidated edge proposal. From/To reference node
// titles, not ids; the extractor resolves them after dedup.
type EdgeCandidate struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Candidates is the parsed shape of a decision-extraction completion.
type Candidates struct {
	Nodes []NodeCandidate `json:"nodes"`
	Edges []EdgeCandidate `json:"edges"`
}

// Report describes how a completion was parsed, so the extractor can
// adjust confidence downstream.
type Report struct {
	StrategyUsed       int `json:"strategyUsed"` // 1 strict JSON, 2 balanced braces, 3 pattern salvage
	DroppedRecordCount int `json:"droppedRecordCount"`
}

// ParseError means all three parse strategies yielded zero candidates.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return "parse completion: " + e.Detail
}

var (
	codeFenceRe      = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\s*```")
	trailingCommaRe  = regexp.MustCompile(`,\s*([}\]])`)
	validKinds       = map[string]decision.Kind{"ROOT": decision.KindRoot, "BRANCH": decision.KindBranch, "LEAF": decision.KindLeaf, "TERMINAL": decision.KindTerminal}
	validLLMOutcomes = map[string]decision.Outcome{"APPROVE": decision.OutcomeApprove, "DECLINE": decision.OutcomeDecline, "REFER": decision.OutcomeRefer}
)

// ParseCandidates turns a raw completion into schema-checked candidates.
// Strategies, first success wins: strict JSON over the whole response; the
// largest balanced {...} substring (tolerates prose and code fences);
// pattern-matcher salvage over the raw text. Records failing the schema
// check are dropped and counted, never coerced. A ParseError is returned
// only when every strategy yields zero candidates.
func ParseCandidates(raw string, m *pattern.Matcher, hint navtree.DocType) (Candidates, Report, error) {
	if c, ok := parseStrict(raw); ok {
		cands, dropped := checkSchema(c)
		if len(cands.Nodes)+len(cands.Edges) > 0 {
			return cands, Report{StrategyUsed: 1, DroppedRecordCount: dropped}, nil
		}
	}
	if c, ok := parseBalanced(raw); ok {
		cands, dropped := checkSchema(c)
		if len(cands.Nodes)+len(cands.Edges) > 0 {
			return cands, Report{StrategyUsed: 2, DroppedRecordCount: dropped}, nil
		}
	}
	if cands, ok := parsePatterns(raw, m, hint); ok {
		return cands, Report{StrategyUsed: 3}, nil
	}
	return Candidates{}, Report{StrategyUsed: 3},
		&ParseError{Detail: fmt.Sprintf("no candidates in %d-byte response", len(raw))}
}

func parseStrict(raw string) (Candidates, bool) {
	var c Candidates
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &c); err != nil {
		return Candidates{}, false
	}
	return c, true
}

func parseBalanced(raw string) (Candidates, bool) {
	body := raw
	if m := codeFenceRe.FindStringSubmatch(raw); len(m) > 1 {
		body = m[1]
	}
	obj := largestBalancedObject(body)
	if obj == "" {
		return Candidates{}, false
	}
	obj = trailingCommaRe.ReplaceAllString(obj, "$1")
	var c Candidates
	if err := json.Unmarshal([]byte(obj), &c); err != nil {
		return Candidates{}, false
	}
	return c, true
}

// largestBalancedObject returns the longest balanced {...} substring,
// tracking string literals and escapes so braces inside values don't count.
func largestBalancedObject(s string) string {
	best := ""
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if escaped {
				escaped = false
				continue
			}
			switch {
			case ch == '\\' && inString:
				escaped = true
			case ch == '"':
				inString = !inString
			case !inString && ch == '{':
				depth++
			case !inString && ch == '}':
				depth--
				if depth == 0 {
					if i+1-start > len(best) {
						best = s[start : i+1]
					}
					i = len(s) // done with this start
				}
			}
		}
	}
	return best
}

// parsePatterns salvages candidates by running the vocabulary matcher over
// the raw response text: thresholds become BRANCH candidates, outcome
// language becomes LEAF/TERMINAL candidates.
func parsePatterns(raw string, m *pattern.Matcher, hint navtree.DocType) (Candidates, bool) {
	if m == nil || strings.TrimSpace(raw) == "" {
		return Candidates{}, false
	}
	var c Candidates
	for _, match := range m.Match(raw, hint) {
		switch match.Kind {
		case pattern.KindThresholdNumeric:
			c.Nodes = append(c.Nodes, NodeCandidate{
				Kind:       string(decision.KindBranch),
				Title:      match.Condition(),
				Condition:  match.Condition(),
				Confidence: match.Confidence,
			})
		case pattern.KindApprovalLanguage, pattern.KindDeclineLanguage:
			c.Nodes = append(c.Nodes, NodeCandidate{
				Kind:       string(decision.KindLeaf),
				Title:      match.Span,
				Outcome:    string(match.Outcome),
				Confidence: match.Confidence,
			})
		case pattern.KindReferralLanguage:
			c.Nodes = append(c.Nodes, NodeCandidate{
				Kind:       string(decision.KindTerminal),
				Title:      match.Span,
				Outcome:    string(match.Outcome),
				Confidence: match.Confidence,
			})
		}
	}
	return c, len(c.Nodes) > 0
}

// checkSchema drops candidates missing kind-determining information or
// carrying values the model can't accept, counting every drop.
func checkSchema(in Candidates) (Candidates, int) {
	var out Candidates
	dropped := 0
	for _, n := range in.Nodes {
		kind, ok := validKinds[strings.ToUpper(strings.TrimSpace(n.Kind))]
		if !ok {
			dropped++
			continue
		}
		n.Kind = string(kind)
		if decision.IsTerminalKind(kind) {
			outcome, ok := validLLMOutcomes[strings.ToUpper(strings.TrimSpace(n.Outcome))]
			if !ok || (kind == decision.KindTerminal && outcome != decision.OutcomeRefer) {
				dropped++
				continue
			}
			n.Outcome = string(outcome)
		} else {
			if n.Outcome != "" || (strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Condition) == "") {
				dropped++
				continue
			}
		}
		if n.Precedence != 0 {
			rng := decision.KindRanges[kind]
			if n.Precedence < rng.Min || n.Precedence > rng.Max {
				dropped++
				continue
			}
		}
		if n.Confidence < 0 {
			n.Confidence = 0
		}
		if n.Confidence > 1 {
			n.Confidence = 1
		}
		out.Nodes = append(out.Nodes, n)
	}
	for _, e := range in.Edges {
		rel := strings.ToUpper(strings.TrimSpace(e.Relation))
		switch decision.Relation(rel) {
		case decision.RelationLeadsTo, decision.RelationIfTrue, decision.RelationIfFalse,
			decision.RelationExceptionFor, decision.RelationDefaultPath:
		default:
			dropped++
			continue
		}
		if strings.TrimSpace(e.From) == "" || strings.TrimSpace(e.To) == "" {
			dropped++
			continue
		}
		e.Relation = rel
		out.Edges = append(out.Edges, e)
	}
	return out, dropped
}
