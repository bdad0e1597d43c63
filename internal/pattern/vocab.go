package pattern

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the configurable word list the matcher is built from.
// Metrics maps a canonical metric name (FICO, LTV, DTI) to its synonyms as
// they appear in guideline text.
type Vocabulary struct {
	Metrics       map[string][]string `yaml:"metrics"`
	Approval      []string            `yaml:"approval"`
	Decline       []string            `yaml:"decline"`
	Referral      []string            `yaml:"referral"`
	Connectives   []string            `yaml:"connectives"`
	PolicyFraming []string            `yaml:"policy_framing"`
}

// DefaultVocabulary returns the built-in mortgage vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Metrics: map[string][]string{
			"FICO": {"fico", "fico score", "credit score", "credit-score"},
			"LTV":  {"ltv", "loan-to-value", "loan to value"},
			"DTI":  {"dti", "debt-to-income", "debt to income", "debt ratio"},
			"CLTV": {"cltv", "combined loan-to-value"},
		},
		Approval: []string{
			"approved", "approve", "approval", "eligible", "qualifies",
			"qualified", "acceptable", "meets guidelines",
		},
		Decline: []string{
			"declined", "decline", "denied", "deny", "rejected", "reject",
			"ineligible", "not eligible", "does not qualify", "disqualified",
		},
		Referral: []string{
			"manual review", "refer to underwriter", "referral", "refer",
			"underwriter review", "manual underwriting", "escalate",
			"exception", "second-level review",
		},
		Connectives: []string{
			"if", "when", "unless", "provided that", "in the event",
			"where", "subject to",
		},
		PolicyFraming: []string{
			"eligibility", "qualification", "qualifying", "requirements",
			"guidelines", "policy", "criteria", "underwriting",
			"borrower must", "loan must",
		},
	}
}

// LoadVocabulary reads a YAML vocabulary file and overlays it on the
// defaults; fields left empty in the file keep their built-in values.
func LoadVocabulary(path string) (Vocabulary, error) {
	vocab := DefaultVocabulary()
	data, err := os.ReadFile(path)
	if err != nil {
		return vocab, fmt.Errorf("read vocabulary file: %w", err)
	}
	var override Vocabulary
	if err := yaml.Unmarshal(data, &override); err != nil {
		return vocab, fmt.Errorf("parse vocabulary file: %w", err)
	}
	if len(override.Metrics) > 0 {
		vocab.Metrics = override.Metrics
	}
	if len(override.Approval) > 0 {
		vocab.Approval = override.Approval
	}
	if len(override.Decline) > 0 {
		vocab.Decline = override.Decline
	}
	if len(override.Referral) > 0 {
		vocab.Referral = override.Referral
	}
	if len(override.Connectives) > 0 {
		vocab.Connectives = override.Connectives
	}
	if len(override.PolicyFraming) > 0 {
		vocab.PolicyFraming = override.PolicyFraming
	}
	return vocab, nil
}
