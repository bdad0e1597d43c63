package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

// TextParser handles plain text files. Guideline documents exported as
// text usually mark sections either with underlined headings or with
// outline numbering ("3.2 Credit Requirements"), so both are detected.
type TextParser struct {
	Opts Options
}

var numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`)

func (p *TextParser) Parse(r io.Reader, filename string) (*navtree.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	b := newBuilder(titleFromFilename(filename), navtree.TypeGuidelines, p.Opts)

	var para []string
	flush := func() {
		if len(para) > 0 {
			b.AddText(strings.Join(para, "\n"))
			para = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			flush()
			continue
		}
		// Underlined heading: a line followed by a rule of = or -.
		if len(para) == 0 && i+1 < len(lines) {
			if level := underlineLevel(strings.TrimSpace(lines[i+1])); level > 0 {
				b.StartSection(trimmed, level)
				i++
				continue
			}
		}
		if len(para) == 0 {
			if title, level, ok := numberedHeading(trimmed, nextBlank(lines, i)); ok {
				b.StartSection(title, level)
				continue
			}
		}
		para = append(para, lines[i])
	}
	flush()

	return b.Document(), nil
}

// underlineLevel reports the heading level a rule line implies:
// === is level 1, --- is level 2, anything else is not a rule.
func underlineLevel(line string) int {
	if len(line) < 3 {
		return 0
	}
	switch {
	case strings.Count(line, "=") == len(line):
		return 1
	case strings.Count(line, "-") == len(line):
		return 2
	}
	return 0
}

// numberedHeading detects outline-numbered headings. A heading must
// stand on its own line (followed by a blank line), stay short and not
// read like a sentence, which keeps numbered list items as body text.
func numberedHeading(line string, standsAlone bool) (string, int, bool) {
	m := numberedHeadingRe.FindStringSubmatch(line)
	if m == nil || !standsAlone {
		return "", 0, false
	}
	title := strings.TrimSpace(m[2])
	if len(title) > 60 || strings.HasSuffix(title, ".") {
		return "", 0, false
	}
	level := strings.Count(m[1], ".") + 1
	if level > 6 {
		level = 6
	}
	return line, level, true
}

func nextBlank(lines []string, i int) bool {
	return i+1 >= len(lines) || strings.TrimSpace(lines[i+1]) == ""
}
