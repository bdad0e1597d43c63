package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

// Parser converts raw document bytes into a navigation document.
type Parser interface {
	Parse(r io.Reader, filename string) (*navtree.Document, error)
}

// Options tune parsing behavior across formats.
type Options struct {
	// MaxSectionRunes caps a single section's text; 0 uses the
	// builder default.
	MaxSectionRunes int
	// PDFFallbackPdftotext enables shelling out to pdftotext when
	// the Go PDF library cannot extract text.
	PDFFallbackPdftotext bool
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{Opts: opts}, nil
	case ".md", ".markdown":
		return &MarkdownParser{Opts: opts}, nil
	case ".csv":
		return &CSVParser{Opts: opts}, nil
	case ".html", ".htm":
		return &HTMLParser{Opts: opts}, nil
	case ".pdf":
		return &PDFParser{Opts: opts}, nil
	case ".docx":
		return &DOCXParser{Opts: opts}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

func newBuilder(title string, typ navtree.DocType, opts Options) *navtree.Builder {
	b := navtree.NewBuilder(title, typ)
	if opts.MaxSectionRunes > 0 {
		b.MaxSectionRunes = opts.MaxSectionRunes
	}
	return b
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
