package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var numericText = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// Cell is one tabular value: text, a number, or empty.
type Cell struct {
	Text    string
	Number  float64
	Numeric bool
}

// Text builds a text cell.
func Text(s string) Cell { return Cell{Text: s} }

// Number builds a numeric cell.
func Number(f float64) Cell { return Cell{Number: f, Numeric: true} }

// IsEmpty reports whether the cell holds nothing but whitespace.
func (c Cell) IsEmpty() bool {
	return !c.Numeric && strings.TrimSpace(c.Text) == ""
}

// String returns the cell as it would be printed.
func (c Cell) String() string {
	if c.Numeric {
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	}
	return c.Text
}

// number returns the numeric value of numeric cells and of text that is a
// plain number.
func (c Cell) number() (float64, bool) {
	if c.Numeric {
		return c.Number, true
	}
	s := strings.TrimSpace(c.Text)
	if !numericText.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// NullIfEmpty returns the trimmed text of a cell, or nil when it is empty.
func NullIfEmpty(c Cell) *string {
	if c.IsEmpty() {
		return nil
	}
	s := strings.TrimSpace(c.String())
	return &s
}
