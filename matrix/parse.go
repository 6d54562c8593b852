// Package matrix parses numeric matrices out of form values.
//
// Parsing is fail-closed: a single token that does not coerce to a finite
// float discards the whole matrix. Callers treat "no value" as "field
// omitted", never as an error.
package matrix

import (
	"math"
	"strconv"
	"strings"

	"github.com/c360studio/topo4dform/form"
)

const (
	// RowSeparator separates matrix rows in delimited text.
	RowSeparator = ";"
	// ColumnSeparator separates values within a row.
	ColumnSeparator = ","
)

// Parse converts v into a matrix. Text is split into rows on ";" and values
// on ","; rows and values that are blank after trimming are skipped. A grid
// is coerced cell by cell and a blank cell fails the parse. Lists and
// relations are not matrices.
//
// ok is false for empty input, for any coercion failure, and when no row
// survives.
func Parse(v form.Value) ([][]float64, bool) {
	if v.IsEmpty() {
		return nil, false
	}
	if text, isText := v.Text(); isText {
		return ParseText(text)
	}
	if rows, isGrid := v.Rows(); isGrid {
		return ParseGrid(rows)
	}
	return nil, false
}

// ParseText parses "1,0,0;0,1,0" style text.
func ParseText(text string) ([][]float64, bool) {
	var out [][]float64
	for _, row := range strings.Split(text, RowSeparator) {
		if strings.TrimSpace(row) == "" {
			continue
		}
		values := []float64{}
		for _, tok := range strings.Split(row, ColumnSeparator) {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			f, ok := ParseFloat(tok)
			if !ok {
				return nil, false
			}
			values = append(values, f)
		}
		out = append(out, values)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// ParseGrid coerces every cell of rows.
func ParseGrid(rows [][]string) ([][]float64, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = make([]float64, len(row))
		for j, cell := range row {
			f, ok := ParseFloat(cell)
			if !ok {
				return nil, false
			}
			out[i][j] = f
		}
	}
	return out, true
}

// ParseFloat coerces a single token, ignoring surrounding whitespace.
// Non-finite results are rejected because they have no JSON encoding.
func ParseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
