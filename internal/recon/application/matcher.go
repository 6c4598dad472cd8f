package application

import (
	"sort"

	recon "ledger-recon/internal/recon/domain"
)

// FindCandidates returns up to k pool records within the window of anchor,
// ranked by amount difference, then date difference, then id. An empty
// result is not an error.
func FindCandidates(anchor recon.Anchor, pool []recon.Record, w recon.Window, k int) []recon.MatchCandidate {
	if k <= 0 {
		return []recon.MatchCandidate{}
	}
	from, to := w.From(anchor.Date), w.To(anchor.Date)
	out := make([]recon.MatchCandidate, 0, len(pool))
	for _, r := range pool {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		signed := anchor.Amount.Sub(r.Amount)
		diff := signed.Abs()
		if diff.GreaterThan(w.Tolerance) {
			continue
		}
		out = append(out, recon.MatchCandidate{
			Record:          r,
			AmountDiff:      diff,
			SignedDiff:      signed,
			DateDiff:        recon.DaysBetween(r.Date, anchor.Date),
			WithinTolerance: true,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return rankLess(out[i], out[j]) })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// rankLess orders candidates by amount difference, date difference and id.
func rankLess(a, b recon.MatchCandidate) bool {
	if c := a.AmountDiff.Cmp(b.AmountDiff); c != 0 {
		return c < 0
	}
	if a.DateDiff != b.DateDiff {
		return a.DateDiff < b.DateDiff
	}
	return a.ID < b.ID
}
