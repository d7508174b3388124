package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxCSVRows bounds how many rows of a single CSV file are rendered.
const DefaultMaxCSVRows = 10000

type CSVOptions struct {
	IncludeHeaders bool
	Delimiter      rune
	MaxRows        int
}

type CSVResult struct {
	Text        string
	RowCount    int
	ColumnCount int
	Headers     []string
}

// CSVToText renders a CSV file as sentences an embedding model can make sense of:
// a summary line, the column list, then one "Row N - column: value" line per record.
func CSVToText(content string, opts CSVOptions) (CSVResult, error) {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxCSVRows
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = DetectDelimiter(content)
	}

	r := csv.NewReader(strings.NewReader(content))
	r.Comma = opts.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	rows := make([][]string, 0, 64)
	for len(rows) < opts.MaxRows {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return CSVResult{}, fmt.Errorf("parse csv: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return CSVResult{}, nil
	}

	headers := rows[0]
	data := rows[1:]
	lines := make([]string, 0, len(data)+4)
	if opts.IncludeHeaders && len(headers) > 0 {
		lines = append(lines, fmt.Sprintf("This CSV file contains %d columns: %s.", len(headers), strings.Join(headers, ", ")), "")
	}
	for i, row := range data {
		cells := make([]string, 0, len(row))
		for j, cell := range row {
			if cell == "" {
				continue
			}
			name := fmt.Sprintf("Column %d", j+1)
			if j < len(headers) && headers[j] != "" {
				name = headers[j]
			}
			cells = append(cells, name+": "+cell)
		}
		if len(cells) > 0 {
			lines = append(lines, fmt.Sprintf("Row %d - %s", i+1, strings.Join(cells, ", ")))
		}
	}
	if len(lines) > 0 {
		lines = append([]string{"", fmt.Sprintf("CSV Data Summary: %d records with %d columns.", len(data), len(headers))}, lines...)
	}

	res := CSVResult{
		Text:        strings.Join(lines, "\n"),
		RowCount:    len(data),
		ColumnCount: len(headers),
	}
	if opts.IncludeHeaders {
		res.Headers = headers
	}
	return res, nil
}

// DetectDelimiter scores , ; tab and | over the first five non-blank lines and picks the
// one whose per-line count is highest and most consistent.
func DetectDelimiter(content string) rune {
	lines := make([]string, 0, 5)
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
		if len(lines) == 5 {
			break
		}
	}
	best, bestScore := ',', 0.0
	if len(lines) < 2 {
		return best
	}
	for _, d := range []rune{',', ';', '\t', '|'} {
		counts := make([]float64, len(lines))
		var sum float64
		for i, l := range lines {
			counts[i] = float64(strings.Count(l, string(d)))
			sum += counts[i]
		}
		avg := sum / float64(len(lines))
		if avg == 0 {
			continue
		}
		var variance float64
		for _, c := range counts {
			variance += (c - avg) * (c - avg)
		}
		variance /= float64(len(lines))
		if score := avg / (1 + variance); score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
