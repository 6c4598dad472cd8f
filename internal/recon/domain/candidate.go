package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one member of a candidate pool. For payouts Date is the sent
// date, Label the reference code and ArrivingBy is set.
type Record struct {
	ID         string
	Date       time.Time
	Amount     decimal.Decimal
	Label      string
	ArrivingBy *time.Time
}

// Anchor is the record candidates are matched against.
type Anchor struct {
	ID     string
	Date   time.Time
	Amount decimal.Decimal
}

// Window bounds a candidate search. PreDays and PostDays are inclusive
// offsets around the anchor date.
type Window struct {
	Tolerance decimal.Decimal
	PreDays   int
	PostDays  int
}

// From is the first date of the window around anchor.
func (w Window) From(anchor time.Time) time.Time {
	return anchor.AddDate(0, 0, -w.PreDays)
}

// To is the last date of the window around anchor.
func (w Window) To(anchor time.Time) time.Time {
	return anchor.AddDate(0, 0, w.PostDays)
}

// MatchCandidate is a ranked qualifying record. It is never persisted.
type MatchCandidate struct {
	Record
	// AmountDiff is |candidate - anchor|.
	AmountDiff decimal.Decimal
	// SignedDiff is anchor - candidate.
	SignedDiff      decimal.Decimal
	DateDiff        int
	WithinTolerance bool
}

// DaysBetween is the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
