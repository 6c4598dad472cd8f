package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ledger-recon/internal/observability/metrics"
	recon "ledger-recon/internal/recon/domain"
)

// InflowQuery filters the reverse search from ledger inflows to payouts.
type InflowQuery struct {
	From           *time.Time
	To             *time.Time
	PreDays        int
	PostDays       int
	SentOffsetDays int
	Tolerance      decimal.Decimal
}

// DefaultInflowQuery returns the configured defaults.
func (s *Service) DefaultInflowQuery() InflowQuery {
	return InflowQuery{
		PreDays:        s.cfg.Inflows.PreDays,
		PostDays:       s.cfg.Inflows.PostDays,
		SentOffsetDays: s.cfg.SentOffsetDays,
		Tolerance:      s.tolerance,
	}
}

// InflowCandidate is a payout that may explain an inflow.
type InflowCandidate struct {
	PayoutID  string  `json:"payoutId"`
	Reference string  `json:"reference"`
	SentDate  string  `json:"sentDate"`
	Arrives   *string `json:"arrives"`
	Amount    string  `json:"amount"`
	Diff      string  `json:"diff"`
}

// InflowRow is one unlinked ledger inflow with its payout candidates.
type InflowRow struct {
	EntryID         string            `json:"id"`
	Date            string            `json:"fechaOn"`
	WindowSentStart string            `json:"windowSentStart"`
	Concept         string            `json:"concepto"`
	Deposit         string            `json:"deposito"`
	Candidates      []InflowCandidate `json:"approx"`
}

// InflowMeta echoes the effective parameters.
type InflowMeta struct {
	From       *string `json:"from"`
	To         *string `json:"to"`
	Pre        int     `json:"pre"`
	Post       int     `json:"post"`
	SentOffset int     `json:"sentOffset"`
	Tolerance  string  `json:"tol"`
}

// InflowListing is the unmatched inflow listing.
type InflowListing struct {
	Count int         `json:"count"`
	Rows  []InflowRow `json:"data"`
	Meta  InflowMeta  `json:"meta"`
}

// UnmatchedInflows lists ledger inflows not yet linked to a payout, newest
// first, each with the closest unchecked payouts by sent date.
func (s *Service) UnmatchedInflows(ctx context.Context, q InflowQuery) (InflowListing, error) {
	start := time.Now()
	listing, err := s.unmatchedInflows(ctx, q)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveListing("inflows", result, time.Since(start))
	return listing, err
}

func (s *Service) unmatchedInflows(ctx context.Context, q InflowQuery) (InflowListing, error) {
	q.PreDays = clampDays(q.PreDays)
	q.PostDays = clampDays(q.PostDays)
	q.SentOffsetDays = clampDays(q.SentOffsetDays)
	q.Tolerance = clampTolerance(q.Tolerance)
	listing := InflowListing{Rows: []InflowRow{}, Meta: InflowMeta{
		From:       formatDate(q.From),
		To:         formatDate(q.To),
		Pre:        q.PreDays,
		Post:       q.PostDays,
		SentOffset: q.SentOffsetDays,
		Tolerance:  q.Tolerance.StringFixed(2),
	}}
	if err := checkRange(q.From, q.To); err != nil {
		return listing, err
	}

	anchors, err := s.store.UnlinkedInflows(ctx, recon.InflowQuery{From: q.From, To: q.To, Limit: s.cfg.MaxInflowAnchors})
	if err != nil {
		return listing, err
	}

	rows := make([]InflowRow, len(anchors))
	window := recon.Window{Tolerance: q.Tolerance, PreDays: q.PreDays, PostDays: q.PostDays}
	k := s.cfg.InflowCandidates
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())
	for i := range anchors {
		g.Go(func() error {
			a := anchors[i]
			anchor := recon.Anchor{ID: a.ID, Date: a.Date, Amount: a.Amount}
			records, err := s.store.PoolCandidates(gctx, recon.PoolPayout, recon.PoolQuery{
				Anchor:         anchor,
				Window:         window,
				Limit:          k,
				UnlinkedOnly:   true,
				SentOffsetDays: q.SentOffsetDays,
			})
			if err != nil {
				return err
			}
			row := InflowRow{
				EntryID:         a.ID,
				Date:            a.Date.Format(dateLayout),
				WindowSentStart: a.Date.AddDate(0, 0, -q.SentOffsetDays).Format(dateLayout),
				Concept:         a.Label,
				Deposit:         a.Amount.StringFixed(2),
				Candidates:      []InflowCandidate{},
			}
			for _, c := range FindCandidates(anchor, records, window, k) {
				row.Candidates = append(row.Candidates, InflowCandidate{
					PayoutID:  c.ID,
					Reference: c.Label,
					SentDate:  c.Date.Format(dateLayout),
					Arrives:   formatDate(c.ArrivingBy),
					Amount:    c.Amount.StringFixed(2),
					Diff:      c.AmountDiff.StringFixed(2),
				})
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return listing, err
	}
	listing.Rows = rows
	listing.Count = len(rows)
	return listing, nil
}
