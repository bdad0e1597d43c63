package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
)

// CSVParser handles CSV files. Rate and eligibility matrices arrive as
// CSV, so the resulting document is typed as a matrix.
type CSVParser struct {
	Opts Options
}

func (p *CSVParser) Parse(r io.Reader, filename string) (*navtree.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	b := newBuilder(titleFromFilename(filename), navtree.TypeMatrix, p.Opts)
	if len(records) == 0 {
		return b.Document(), nil
	}

	// First row is headers.
	headers := records[0]

	// Group rows into batches of 20 for manageable sections.
	const batchSize = 20
	dataRows := records[1:]

	for i := 0; i < len(dataRows); i += batchSize {
		end := i + batchSize
		if end > len(dataRows) {
			end = len(dataRows)
		}
		batch := dataRows[i:end]

		var text strings.Builder
		text.WriteString("Headers: " + strings.Join(headers, ", ") + "\n\n")
		for _, row := range batch {
			for j, cell := range row {
				if j < len(headers) {
					text.WriteString(headers[j] + ": " + cell)
				} else {
					text.WriteString(cell)
				}
				if j < len(row)-1 {
					text.WriteString(", ")
				}
			}
			text.WriteString("\n")
		}

		// 1-indexed row numbers, skipping the header row.
		b.StartSection(fmt.Sprintf("Rows %d-%d", i+2, end+1), 1)
		b.AddText(text.String())
	}

	return b.Document(), nil
}
