package parser

import (
	"strings"
	"testing"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

func TestTextParser_ParagraphAccumulation(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", doc.Title)
	}
	if doc.Type != navtree.TypeGuidelines {
		t.Errorf("expected guidelines document, got %q", doc.Type)
	}
	// Without headings, everything lands in one untitled section.
	if len(doc.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(doc.Sections))
	}
	want := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	if doc.Sections[0].Text != want {
		t.Errorf("expected text %q, got %q", want, doc.Sections[0].Text)
	}
}

func TestTextParser_UnderlinedHeadings(t *testing.T) {
	input := `Credit Requirements
===================

Minimum FICO applies.

Exceptions
----------

Manual review for exceptions.
`
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "guide.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Title != "Credit Requirements" || doc.Sections[0].Level != 1 {
		t.Errorf("section 0: got title %q level %d", doc.Sections[0].Title, doc.Sections[0].Level)
	}
	if doc.Sections[1].Title != "Exceptions" || doc.Sections[1].Level != 2 {
		t.Errorf("section 1: got title %q level %d", doc.Sections[1].Title, doc.Sections[1].Level)
	}
	// Level 2 nests under the preceding level 1.
	if doc.Sections[1].ParentID != doc.Sections[0].ID {
		t.Errorf("expected Exceptions to nest under Credit Requirements")
	}
	if doc.Sections[0].Text != "Minimum FICO applies." {
		t.Errorf("unexpected section 0 text: %q", doc.Sections[0].Text)
	}
}

func TestTextParser_NumberedHeadings(t *testing.T) {
	input := `1. Eligibility

Borrowers must qualify.

1.2 Credit Score

Minimum 620 FICO required for approval.
`
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "outline.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Level != 1 {
		t.Errorf("expected level 1 for %q, got %d", doc.Sections[0].Title, doc.Sections[0].Level)
	}
	if doc.Sections[1].Level != 2 {
		t.Errorf("expected level 2 for %q, got %d", doc.Sections[1].Title, doc.Sections[1].Level)
	}
	if doc.Sections[1].ParentID != doc.Sections[0].ID {
		t.Error("expected 1.2 to nest under 1.")
	}
}

func TestTextParser_NumberedListItemsStayBodyText(t *testing.T) {
	// Consecutive numbered lines are a list, not headings.
	input := "Requirements:\n1. Proof of income required for all borrowers.\n2. Two years employment history must be documented.\n"
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "list.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Title != "" {
		t.Errorf("expected untitled section, got %q", doc.Sections[0].Title)
	}
	if !strings.Contains(doc.Sections[0].Text, "Proof of income") {
		t.Errorf("list items missing from body text: %q", doc.Sections[0].Text)
	}
}

func TestTextParser_EmptyInput(t *testing.T) {
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "empty" {
		t.Errorf("expected title %q, got %q", "empty", doc.Title)
	}
	if len(doc.Sections) != 0 {
		t.Errorf("expected 0 sections for empty input, got %d", len(doc.Sections))
	}
}

func TestTextParser_WhitespaceOnlyLines(t *testing.T) {
	// Lines with only whitespace separate paragraphs like blank lines.
	input := "Para one.\n   \nPara two."
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "ws.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Text != "Para one.\n\nPara two." {
		t.Errorf("unexpected text: %q", doc.Sections[0].Text)
	}
}

func TestTextParser_SectionCapSplitsContinuations(t *testing.T) {
	long := strings.Repeat("word ", 30)
	input := "Heading\n=======\n\n" + long + "\n\n" + long
	p := &TextParser{Opts: Options{MaxSectionRunes: 100}}
	doc, err := p.Parse(strings.NewReader(input), "big.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected a continuation section, got %d sections", len(doc.Sections))
	}
	if doc.Sections[1].Title != doc.Sections[0].Title {
		t.Errorf("continuation should keep the heading title, got %q", doc.Sections[1].Title)
	}
}
