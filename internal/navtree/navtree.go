// Package navtree models the navigational structure of a parsed document:
// an ordered list of sections, each with a stable id, heading title, text,
// and a parent reference forming a tree.
package navtree

import (
	"fmt"
	"strings"
)

// DocType hints at how a document's text is organized.
type DocType string

const (
	TypeGuidelines DocType = "guidelines"
	TypeMatrix     DocType = "matrix"
)

// Section is one navigation node of a document.
type Section struct {
	ID       string `json:"section_id"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	ParentID string `json:"parent_section_id,omitempty"`
	Level    int    `json:"level"`
	Order    int    `json:"order"`
	Page     int    `json:"page,omitempty"`
}

// Document is a parsed document: its ordered sections plus metadata.
type Document struct {
	ID       string     `json:"doc_id,omitempty"`
	Title    string     `json:"title"`
	Type     DocType    `json:"document_type"`
	Sections []*Section `json:"sections"`

	byID map[string]*Section
}

// Section returns the section with the given id, or nil.
func (d *Document) Section(id string) *Section {
	if d.byID == nil {
		d.byID = make(map[string]*Section, len(d.Sections))
		for _, s := range d.Sections {
			d.byID[s.ID] = s
		}
	}
	return d.byID[id]
}

// Breadcrumb returns the heading titles from the top-level ancestor of id
// down to id itself, skipping untitled sections.
func (d *Document) Breadcrumb(id string) []string {
	var titles []string
	for s := d.Section(id); s != nil; s = d.Section(s.ParentID) {
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	// Reverse: collected leaf-first.
	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return titles
}

// TopLevelAncestor returns the root-level ancestor of id (possibly id
// itself). Sections sharing a top-level ancestor form one extraction group.
func (d *Document) TopLevelAncestor(id string) *Section {
	s := d.Section(id)
	for s != nil && s.ParentID != "" {
		parent := d.Section(s.ParentID)
		if parent == nil {
			break
		}
		s = parent
	}
	return s
}

// Builder assembles a Document from a stream of headings and text, the way
// the format parsers emit it. Section ids are stable within the document.
type Builder struct {
	doc   *Document
	stack []*Section // open sections, outermost first
	seq   int

	// MaxSectionRunes caps a single section's text; longer content
	// continues in a sibling section so a section stays a single LLM call.
	MaxSectionRunes int
}

const defaultMaxSectionRunes = 8000

// NewBuilder starts a document with the given title and type hint.
func NewBuilder(title string, typ DocType) *Builder {
	if typ == "" {
		typ = TypeGuidelines
	}
	return &Builder{
		doc:             &Document{Title: title, Type: typ},
		MaxSectionRunes: defaultMaxSectionRunes,
	}
}

// StartSection opens a new section at the given heading level (1-based).
// Sections at the same or shallower level close the current one.
func (b *Builder) StartSection(title string, level int) *Section {
	if level < 1 {
		level = 1
	}
	for len(b.stack) > 0 && b.stack[len(b.stack)-1].Level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parentID := ""
	if len(b.stack) > 0 {
		parentID = b.stack[len(b.stack)-1].ID
	}
	s := b.newSection(title, parentID, level)
	b.stack = append(b.stack, s)
	return s
}

// AddText appends text to the current section, opening an untitled section
// if none is open, and splitting into continuation siblings past the cap.
func (b *Builder) AddText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(b.stack) == 0 {
		b.StartSection("", 1)
	}
	cur := b.stack[len(b.stack)-1]
	if cur.Text != "" && len(cur.Text)+len(text) > b.MaxSectionRunes {
		cont := b.newSection(cur.Title, cur.ParentID, cur.Level)
		b.stack[len(b.stack)-1] = cont
		cur = cont
	}
	if cur.Text != "" {
		cur.Text += "\n\n"
	}
	cur.Text += text
}

// Document finalizes and returns the built document.
func (b *Builder) Document() *Document {
	return b.doc
}

func (b *Builder) newSection(title, parentID string, level int) *Section {
	b.seq++
	s := &Section{
		ID:       fmt.Sprintf("sec-%04d", b.seq),
		Title:    title,
		ParentID: parentID,
		Level:    level,
		Order:    b.seq,
	}
	b.doc.Sections = append(b.doc.Sections, s)
	return s
}
