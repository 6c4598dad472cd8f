package application

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	recon "ledger-recon/internal/recon/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFindCandidatesSuggestsClosestWithinWindow(t *testing.T) {
	anchor := recon.Anchor{ID: "p1", Date: day(2025, 6, 10), Amount: amount("500.00")}
	pool := []recon.Record{{ID: "e1", Date: day(2025, 6, 12), Amount: amount("500.50")}}
	w := recon.Window{Tolerance: amount("1.00"), PreDays: 14, PostDays: 14}

	got := FindCandidates(anchor, pool, w, 5)
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %d", len(got))
	}
	c := got[0]
	if c.ID != "e1" || c.AmountDiff.StringFixed(2) != "0.50" || c.SignedDiff.StringFixed(2) != "-0.50" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.DateDiff != 2 || !c.WithinTolerance {
		t.Fatalf("unexpected date diff or tolerance %+v", c)
	}
}

func TestFindCandidatesToleranceBoundary(t *testing.T) {
	anchor := recon.Anchor{Date: day(2025, 6, 10), Amount: amount("500.00")}
	w := recon.Window{Tolerance: amount("1.00"), PreDays: 3, PostDays: 3}
	cases := []struct {
		name   string
		amount string
		want   int
	}{
		{"exactly at tolerance", "501.00", 1},
		{"just below anchor at tolerance", "499.00", 1},
		{"one cent over", "501.01", 0},
		{"one cent under", "498.99", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pool := []recon.Record{{ID: "x", Date: anchor.Date, Amount: amount(tc.amount)}}
			if got := FindCandidates(anchor, pool, w, 5); len(got) != tc.want {
				t.Fatalf("got %d candidates, want %d", len(got), tc.want)
			}
		})
	}
}

func TestFindCandidatesWindowBoundsInclusive(t *testing.T) {
	anchor := recon.Anchor{Date: day(2025, 6, 10), Amount: amount("100.00")}
	w := recon.Window{Tolerance: amount("1.00"), PreDays: 14, PostDays: 10}
	pool := []recon.Record{
		{ID: "first-day", Date: day(2025, 5, 27), Amount: amount("100.00")},
		{ID: "last-day", Date: day(2025, 6, 20), Amount: amount("100.00")},
		{ID: "too-early", Date: day(2025, 5, 26), Amount: amount("100.00")},
		{ID: "too-late", Date: day(2025, 6, 21), Amount: amount("100.00")},
	}
	got := FindCandidates(anchor, pool, w, 10)
	if len(got) != 2 {
		t.Fatalf("expected both boundary days, got %+v", got)
	}
}

func TestFindCandidatesRanking(t *testing.T) {
	anchor := recon.Anchor{Date: day(2025, 6, 10), Amount: amount("100.00")}
	w := recon.Window{Tolerance: amount("1.00"), PreDays: 14, PostDays: 14}
	pool := []recon.Record{
		{ID: "far-exact", Date: day(2025, 6, 20), Amount: amount("100.00")},
		{ID: "off-by-cents", Date: day(2025, 6, 10), Amount: amount("100.40")},
		{ID: "b-near-exact", Date: day(2025, 6, 11), Amount: amount("100.00")},
		{ID: "a-near-exact", Date: day(2025, 6, 9), Amount: amount("100.00")},
	}
	got := FindCandidates(anchor, pool, w, 3)
	want := []string{"a-near-exact", "b-near-exact", "far-exact"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("rank %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestFindCandidatesEmpty(t *testing.T) {
	anchor := recon.Anchor{Date: day(2025, 6, 10), Amount: amount("100.00")}
	w := recon.Window{Tolerance: amount("1.00")}
	if got := FindCandidates(anchor, nil, w, 3); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
