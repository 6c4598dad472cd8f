package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ledger-recon/internal/observability/metrics"
	payouts "ledger-recon/internal/payouts/domain"
	recon "ledger-recon/internal/recon/domain"
)

// Row statuses of the bank listing.
const (
	StatusChecked   = "checked"
	StatusMatched   = "matched"
	StatusUnmatched = "unmatched"
	StatusUnknown   = "unknown"
)

// BankQuery filters the bank reconciliation listing by payout sent date.
type BankQuery struct {
	From           *time.Time
	To             *time.Time
	PreDays        int
	PostDays       int
	SentOffsetDays int
	Tolerance      decimal.Decimal
	IncludeChecked bool
}

// DefaultBankQuery returns the configured defaults.
func (s *Service) DefaultBankQuery() BankQuery {
	return BankQuery{
		PreDays:        s.cfg.Banks.PreDays,
		PostDays:       s.cfg.Banks.PostDays,
		SentOffsetDays: s.cfg.SentOffsetDays,
		Tolerance:      s.tolerance,
		IncludeChecked: true,
	}
}

// BankMatch is the best candidate of a payout.
type BankMatch struct {
	EntryID   string     `json:"entryId"`
	Pool      recon.Pool `json:"pool"`
	Date      string     `json:"fechaOn"`
	Concept   string     `json:"concepto"`
	Deposit   string     `json:"deposito"`
	Diff      string     `json:"diff"`
	DateDiff  int        `json:"dateDiff"`
	WithinTol bool       `json:"withinTol"`
}

// BankRow is one payout of the bank listing.
type BankRow struct {
	PayoutID         string     `json:"id"`
	ReferenceCode    string     `json:"referenceCode"`
	PayoutDate       *string    `json:"payoutDate"`
	ArrivingBy       *string    `json:"arrivingBy"`
	SentDate         *string    `json:"sentDate"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	PayoutMethod     string     `json:"payoutMethod"`
	MethodNormalized string     `json:"methodNormalized"`
	Status           string     `json:"status"`
	IsChecked        bool       `json:"isChecked"`
	ReconCheckedAt   *time.Time `json:"reconCheckedAt"`
	ReconCheckedBy   string     `json:"reconCheckedBy,omitempty"`
	LinkedEntryID    string     `json:"linkedEntryId,omitempty"`
	Match            *BankMatch `json:"match"`
	WindowFrom       *string    `json:"windowFrom"`
	WindowTo         *string    `json:"windowTo"`
}

// BankMeta echoes the effective parameters.
type BankMeta struct {
	From           *string `json:"from"`
	To             *string `json:"to"`
	Pre            int     `json:"pre"`
	Post           int     `json:"post"`
	SentOffset     int     `json:"sentOffset"`
	Tolerance      string  `json:"tol"`
	IncludeChecked bool    `json:"includeChecked"`
}

// BankListing is the bank reconciliation listing.
type BankListing struct {
	Count int       `json:"count"`
	Rows  []BankRow `json:"data"`
	Meta  BankMeta  `json:"meta"`
}

// ReconcileBanks lists payouts with their best candidate in the pool their
// method settles into. Unknown methods are listed without a search.
func (s *Service) ReconcileBanks(ctx context.Context, q BankQuery) (BankListing, error) {
	start := time.Now()
	listing, err := s.reconcileBanks(ctx, q)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveListing("banks", result, time.Since(start))
	return listing, err
}

func (s *Service) reconcileBanks(ctx context.Context, q BankQuery) (BankListing, error) {
	q.PreDays = clampDays(q.PreDays)
	q.PostDays = clampDays(q.PostDays)
	q.SentOffsetDays = clampDays(q.SentOffsetDays)
	q.Tolerance = clampTolerance(q.Tolerance)
	listing := BankListing{Rows: []BankRow{}, Meta: BankMeta{
		From:           formatDate(q.From),
		To:             formatDate(q.To),
		Pre:            q.PreDays,
		Post:           q.PostDays,
		SentOffset:     q.SentOffsetDays,
		Tolerance:      q.Tolerance.StringFixed(2),
		IncludeChecked: q.IncludeChecked,
	}}
	if err := checkRange(q.From, q.To); err != nil {
		return listing, err
	}

	list, err := s.store.ListPayouts(ctx, payouts.PayoutQuery{
		SentFrom:       q.From,
		SentTo:         q.To,
		SentOffsetDays: q.SentOffsetDays,
		IncludeChecked: q.IncludeChecked,
	})
	if err != nil {
		return listing, err
	}

	rows := make([]BankRow, len(list))
	window := recon.Window{Tolerance: q.Tolerance, PreDays: q.PreDays, PostDays: q.PostDays}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())
	for i := range list {
		g.Go(func() error {
			row, err := s.bankRow(gctx, list[i], window, q.SentOffsetDays)
			if err != nil {
				return err
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

func (s *Service) bankRow(ctx context.Context, p payouts.Payout, w recon.Window, offset int) (BankRow, error) {
	method := s.methods.Classify(p.MethodRaw)
	row := BankRow{
		PayoutID:         p.ID,
		ReferenceCode:    p.ReferenceCode,
		PayoutDate:       formatDate(p.PayoutDate),
		ArrivingBy:       formatDate(p.ArrivingBy),
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		PayoutMethod:     p.MethodRaw,
		MethodNormalized: method.String(),
		IsChecked:        p.IsChecked(),
		ReconCheckedAt:   p.ReconCheckedAt,
		ReconCheckedBy:   p.ReconCheckedBy,
		LinkedEntryID:    p.LinkedEntryID,
		Status:           StatusUnmatched,
	}
	sent, ok := p.SentDate(offset)
	if ok {
		row.SentDate = formatDate(&sent)
		row.WindowFrom = formatDate(shift(&sent, -w.PreDays))
		row.WindowTo = formatDate(shift(&sent, w.PostDays))
	}
	pool := method.Pool()
	if pool == recon.PoolNone {
		row.Status = StatusUnknown
		return row, nil
	}
	if p.IsChecked() {
		row.Status = StatusChecked
	}
	if !ok {
		return row, nil
	}

	anchor := recon.Anchor{ID: p.ID, Date: sent, Amount: p.Amount}
	// unchecked payouts are only offered counterparts Confirm can still take
	records, err := s.store.PoolCandidates(ctx, pool, recon.PoolQuery{
		Anchor:       anchor,
		Window:       w,
		Limit:        s.cfg.TopK,
		UnlinkedOnly: !p.IsChecked(),
	})
	if err != nil {
		return row, err
	}
	candidates := FindCandidates(anchor, records, w, s.cfg.TopK)
	if len(candidates) == 0 {
		return row, nil
	}
	best := candidates[0]
	row.Match = &BankMatch{
		EntryID:   best.ID,
		Pool:      pool,
		Date:      best.Date.Format(dateLayout),
		Concept:   best.Label,
		Deposit:   best.Amount.StringFixed(2),
		Diff:      best.SignedDiff.StringFixed(2),
		DateDiff:  best.DateDiff,
		WithinTol: best.WithinTolerance,
	}
	if row.Status != StatusChecked {
		row.Status = StatusMatched
	}
	return row, nil
}
