// Package pattern finds candidate decision language in guideline text:
// numeric thresholds against known mortgage metrics, conditional
// connectives, and approval/decline/referral vocabulary. Matching is purely
// heuristic; an empty result is a valid result, never an error.
package pattern

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

// Kind classifies what a candidate span matched.
type Kind string

const (
	KindThresholdNumeric      Kind = "THRESHOLD_NUMERIC"
	KindConditionalConnective Kind = "CONDITIONAL_CONNECTIVE"
	KindApprovalLanguage      Kind = "APPROVAL_LANGUAGE"
	KindDeclineLanguage       Kind = "DECLINE_LANGUAGE"
	KindReferralLanguage      Kind = "REFERRAL_LANGUAGE"
)

// Candidate is an unvalidated fragment of decision language found in text.
// Metric/Operator/Value are set for THRESHOLD_NUMERIC, Outcome for the
// three outcome-language kinds.
type Candidate struct {
	Span       string           `json:"spanText"`
	Kind       Kind             `json:"matchedPatternKind"`
	Confidence float64          `json:"approxConfidence"`
	Offset     int              `json:"-"`
	Metric     string           `json:"metric,omitempty"`
	Operator   string           `json:"operator,omitempty"`
	Value      float64          `json:"value,omitempty"`
	Outcome    decision.Outcome `json:"outcome,omitempty"`
}

// Condition renders a threshold candidate as a logical expression string.
func (c Candidate) Condition() string {
	if c.Kind != KindThresholdNumeric {
		return ""
	}
	return fmt.Sprintf("%s %s %s", c.Metric, c.Operator, strconv.FormatFloat(c.Value, 'f', -1, 64))
}

// Matcher holds the compiled patterns for one vocabulary.
type Matcher struct {
	vocab      Vocabulary
	canonical  map[string]string // lowercased synonym -> canonical metric
	rangeRe    *regexp.Regexp
	metricOpRe *regexp.Regexp // metric before operator: "FICO >= 620"
	opMetricRe *regexp.Regexp // operator before metric: "minimum credit score of 620"
	connective *regexp.Regexp
	approval   *regexp.Regexp
	decline    *regexp.Regexp
	referral   *regexp.Regexp
	framing    *regexp.Regexp
	negation   *regexp.Regexp
}

const operatorAlt = `>=|=>|<=|=<|>|<|==|=|at\s+least|no\s+(?:more|greater|higher)\s+than|not\s+(?:to\s+)?exceed(?:ing)?|below|under|above|over|exceeds?|minimum(?:\s+of)?|maximum(?:\s+of)?|min\.?|max\.?`

// NewMatcher compiles a matcher for the given vocabulary.
func NewMatcher(vocab Vocabulary) (*Matcher, error) {
	m := &Matcher{vocab: vocab, canonical: make(map[string]string)}

	var synonyms []string
	for metric, syns := range vocab.Metrics {
		for _, s := range syns {
			m.canonical[strings.ToLower(s)] = metric
			synonyms = append(synonyms, s)
		}
	}
	synAlt := phraseAlternation(synonyms)

	var err error
	compile := func(expr string) *regexp.Regexp {
		if err != nil {
			return nil
		}
		var re *regexp.Regexp
		re, err = regexp.Compile(expr)
		return re
	}

	m.rangeRe = compile(fmt.Sprintf(
		`(?i)\b(%s)\b\s*(?:of|:|between|from)?\s*(\d+(?:\.\d+)?)\s*(?:[-–—]|to)\s*(\d+(?:\.\d+)?)`, synAlt))
	m.metricOpRe = compile(fmt.Sprintf(
		`(?i)\b(%s)\b\s*(?:must\s+be|is|of|:)?\s*(%s)\s*:?\s*(\d+(?:\.\d+)?)\s*%%?`, synAlt, operatorAlt))
	m.opMetricRe = compile(fmt.Sprintf(
		`(?i)\b(%s)\s+(%s)\b\s*(?:of|:|is)?\s*(\d+(?:\.\d+)?)\s*%%?`, operatorAlt, synAlt))
	m.connective = compile(fmt.Sprintf(`(?i)\b(?:%s)\b`, phraseAlternation(vocab.Connectives)))
	m.approval = compile(fmt.Sprintf(`(?i)\b(?:%s)\b`, phraseAlternation(vocab.Approval)))
	m.decline = compile(fmt.Sprintf(`(?i)\b(?:%s)\b`, phraseAlternation(vocab.Decline)))
	m.referral = compile(fmt.Sprintf(`(?i)\b(?:%s)\b`, phraseAlternation(vocab.Referral)))
	m.framing = compile(fmt.Sprintf(`(?i)\b(?:%s)\b`, phraseAlternation(vocab.PolicyFraming)))
	m.negation = compile(`(?i)\b(?:not|no|cannot|never)\s+$`)
	if err != nil {
		return nil, fmt.Errorf("compile vocabulary patterns: %w", err)
	}
	return m, nil
}

// Match scans text and returns all candidates ordered by position. The
// document-type hint shifts confidence: matrix rows are near-mechanical
// threshold statements, so thresholds score higher and connectives lower.
func (m *Matcher) Match(text string, hint navtree.DocType) []Candidate {
	thresholdConf, connectiveConf := 0.9, 0.6
	if hint == navtree.TypeMatrix {
		thresholdConf, connectiveConf = 0.95, 0.5
	}

	var out []Candidate
	covered := make([][2]int, 0, 4)

	// Ranges first: "620-680" yields a lower and an upper bound candidate,
	// and the covered span suppresses overlapping point-value matches.
	for _, idx := range m.rangeRe.FindAllStringSubmatchIndex(text, -1) {
		span := text[idx[0]:idx[1]]
		metric := m.canonical[normalizeKey(text[idx[2]:idx[3]])]
		low, lowErr := strconv.ParseFloat(text[idx[4]:idx[5]], 64)
		high, highErr := strconv.ParseFloat(text[idx[6]:idx[7]], 64)
		if metric == "" || lowErr != nil || highErr != nil {
			continue
		}
		covered = append(covered, [2]int{idx[0], idx[1]})
		out = append(out,
			Candidate{Span: span, Kind: KindThresholdNumeric, Confidence: thresholdConf,
				Offset: idx[0], Metric: metric, Operator: ">=", Value: low},
			Candidate{Span: span, Kind: KindThresholdNumeric, Confidence: thresholdConf,
				Offset: idx[0], Metric: metric, Operator: "<=", Value: high})
	}

	appendThreshold := func(idx []int, metricGroup, opGroup, valGroup int) {
		if overlaps(covered, idx[0], idx[1]) {
			return
		}
		metric := m.canonical[normalizeKey(text[idx[2*metricGroup]:idx[2*metricGroup+1]])]
		op := normalizeOperator(text[idx[2*opGroup]:idx[2*opGroup+1]])
		val, err := strconv.ParseFloat(text[idx[2*valGroup]:idx[2*valGroup+1]], 64)
		if metric == "" || op == "" || err != nil {
			return
		}
		covered = append(covered, [2]int{idx[0], idx[1]})
		out = append(out, Candidate{
			Span: text[idx[0]:idx[1]], Kind: KindThresholdNumeric,
			Confidence: thresholdConf, Offset: idx[0],
			Metric: metric, Operator: op, Value: val,
		})
	}
	for _, idx := range m.metricOpRe.FindAllStringSubmatchIndex(text, -1) {
		appendThreshold(idx, 1, 2, 3)
	}
	for _, idx := range m.opMetricRe.FindAllStringSubmatchIndex(text, -1) {
		appendThreshold(idx, 2, 1, 3)
	}

	for _, idx := range m.connective.FindAllStringIndex(text, -1) {
		out = append(out, Candidate{
			Span: text[idx[0]:idx[1]], Kind: KindConditionalConnective,
			Confidence: connectiveConf, Offset: idx[0],
		})
	}

	outcomeKinds := []struct {
		re      *regexp.Regexp
		kind    Kind
		outcome decision.Outcome
	}{
		{m.decline, KindDeclineLanguage, decision.OutcomeDecline},
		{m.referral, KindReferralLanguage, decision.OutcomeRefer},
		{m.approval, KindApprovalLanguage, decision.OutcomeApprove},
	}
	for _, ok := range outcomeKinds {
		for _, idx := range ok.re.FindAllStringIndex(text, -1) {
			// "not eligible" must not also produce an approval candidate.
			if ok.kind == KindApprovalLanguage && m.negatedBefore(text, idx[0]) {
				continue
			}
			out = append(out, Candidate{
				Span: text[idx[0]:idx[1]], Kind: ok.kind,
				Confidence: 0.85, Offset: idx[0], Outcome: ok.outcome,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// HasPolicyFraming reports whether text contains qualification/policy
// framing language, used for ROOT candidacy.
func (m *Matcher) HasPolicyFraming(text string) bool {
	return m.framing.MatchString(text)
}

// HasReferralLanguage reports whether text mentions manual-review or
// exception handling anywhere.
func (m *Matcher) HasReferralLanguage(text string) bool {
	return m.referral.MatchString(text)
}

func (m *Matcher) negatedBefore(text string, start int) bool {
	lo := start - 24
	if lo < 0 {
		lo = 0
	}
	return m.negation.MatchString(text[lo:start])
}

func overlaps(covered [][2]int, start, end int) bool {
	for _, c := range covered {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeOperator(op string) string {
	switch normalizeKey(strings.TrimSuffix(op, ".")) {
	case ">=", "=>", "at least", "minimum", "minimum of", "min":
		return ">="
	case "<=", "=<", "no more than", "no greater than", "no higher than",
		"not exceed", "not exceeding", "not to exceed", "maximum", "maximum of", "max":
		return "<="
	case ">", "above", "over", "exceed", "exceeds":
		return ">"
	case "<", "below", "under":
		return "<"
	case "=", "==":
		return "="
	}
	return ""
}

// phraseAlternation builds a regex alternation from vocabulary phrases,
// longest first, with internal whitespace made flexible.
func phraseAlternation(phrases []string) string {
	sorted := append([]string(nil), phrases...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, 0, len(sorted))
	for _, p := range sorted {
		q := regexp.QuoteMeta(p)
		q = strings.ReplaceAll(q, " ", `\s+`)
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, "|")
}
