package llm

import (
	"fmt"
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

const extractionPrompt = `Extract the decision logic from the following mortgage guideline section as a decision tree. Return ONE JSON object with two arrays:

{
  "nodes": [
    {
      "kind": "ROOT" | "BRANCH" | "LEAF" | "TERMINAL",
      "title": "short human-readable label",
      "condition": "logical expression, e.g. FICO >= 620 AND LTV <= 80",
      "outcome": "APPROVE" | "DECLINE" | "REFER",
      "precedence": 0,
      "confidence": 0.0
    }
  ],
  "edges": [
    { "from": "title of source node", "to": "title of target node", "relation": "LEADS_TO" | "IF_TRUE" | "IF_FALSE" | "EXCEPTION_FOR" | "DEFAULT_PATH" }
  ]
}

Rules:
- ROOT is the entry point of a qualification policy (at most 3 per section)
- BRANCH evaluates a condition; "condition" is required, "outcome" forbidden
- LEAF carries a final outcome; "outcome" is required, "condition" forbidden
- TERMINAL is a LEAF reserved for manual-review (REFER) exits
- "precedence" 0 means unassigned; otherwise ROOT 1-5, BRANCH 6-89, LEAF/TERMINAL 90-99
- "confidence" is your certainty in 0.0-1.0
- Only extract decision logic actually stated in the text; do not invent thresholds
- Return {"nodes": [], "edges": []} if the section contains no decision logic

Respond with ONLY the JSON object, no other text.`

// BuildSectionPrompt renders the extraction prompt for one section with its
// document title and breadcrumb context.
func BuildSectionPrompt(docTitle string, breadcrumb []string, hint navtree.DocType, sectionText string) string {
	var sb strings.Builder
	sb.WriteString(extractionPrompt)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Document: %q (type: %s)\n", docTitle, hint))
	if len(breadcrumb) > 0 {
		sb.WriteString("Section: ")
		sb.WriteString(strings.Join(breadcrumb, " > "))
		sb.WriteString("\n")
	}
	sb.WriteString("---\n")
	sb.WriteString(sectionText)
	return sb.String()
}
