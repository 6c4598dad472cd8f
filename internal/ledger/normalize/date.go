package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// spreadsheetEpoch is day zero of spreadsheet serial dates.
var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31.
const maxSerial = 2958465

var (
	trailingTime = regexp.MustCompile(`\s+\d{1,2}:\d{2}(:\d{2})?$`)
	slashDate    = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)
)

var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// Order is the preferred reading of numeric dates such as 04/02/2025.
type Order int

const (
	DayFirst Order = iota
	MonthFirst
)

var (
	dayFirstLayouts   = []string{"2/1/2006", "2-1-2006", "2.1.2006"}
	monthFirstLayouts = []string{"1/2/2006", "1-2-2006", "1.2.2006"}
	isoLayouts        = []string{"2006-1-2", "2006/1/2"}
)

func numericLayouts(order Order) []string {
	first, second := dayFirstLayouts, monthFirstLayouts
	if order == MonthFirst {
		first, second = second, first
	}
	out := make([]string, 0, len(first)+len(second)+len(isoLayouts))
	out = append(out, first...)
	out = append(out, second...)
	return append(out, isoLayouts...)
}

var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"Monday, January 2, 2006",
	"20060102",
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a calendar date from a cell. It understands spreadsheet
// serial numbers, Spanish month names, common numeric layouts and a handful
// of general layouts. Ambiguous numeric dates are read day-first. It returns
// false when nothing matches.
func ParseDate(c Cell) (time.Time, bool) {
	return ParseDateOrder(c, DayFirst)
}

// ParseDateOrder is ParseDate with an explicit preference for ambiguous
// numeric dates.
func ParseDateOrder(c Cell, order Order) (time.Time, bool) {
	if n, ok := c.number(); ok {
		if d, ok := fromSerial(n); ok || c.Numeric {
			return d, ok
		}
	}
	s := strings.TrimSpace(c.Text)
	if s == "" {
		return time.Time{}, false
	}
	s = strings.TrimSpace(trailingTime.ReplaceAllString(s, ""))

	if d, ok := parseMonthName(s); ok {
		return d, true
	}
	for _, layout := range numericLayouts(order) {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), true
		}
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), true
		}
	}
	return time.Time{}, false
}

// DateAmbiguous reports whether a numeric date reads as two different valid
// dates depending on day-first or month-first order.
func DateAmbiguous(c Cell) bool {
	if c.Numeric {
		return false
	}
	s := strings.TrimSpace(trailingTime.ReplaceAllString(strings.TrimSpace(c.Text), ""))
	m := slashDate.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if a == b {
		return false
	}
	_, dayFirst := civilDate(year, b, a)
	_, monthFirst := civilDate(year, a, b)
	return dayFirst && monthFirst
}

func fromSerial(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 || n > maxSerial {
		return time.Time{}, false
	}
	return spreadsheetEpoch.AddDate(0, 0, int(n)), true
}

// parseMonthName handles text such as "Febrero 04, 2025." or
// "4 de febrero de 2025".
func parseMonthName(s string) (time.Time, bool) {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var (
		month     time.Month
		day, year int
	)
	for _, tok := range tokens {
		if m, ok := spanishMonths[tok]; ok && month == 0 {
			month = m
			continue
		}
		if !isDigits(tok) {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		switch {
		case len(tok) == 4 && year == 0:
			year = n
		case len(tok) <= 2 && day == 0:
			day = n
		}
	}
	if month == 0 || day == 0 || year == 0 {
		return time.Time{}, false
	}
	return civilDate(year, int(month), day)
}

func civilDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
