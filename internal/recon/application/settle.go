package application

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger-recon/internal/observability/metrics"
	payouts "ledger-recon/internal/payouts/domain"
	recon "ledger-recon/internal/recon/domain"
)

// ReservationQuery scopes the booking settle listing. From and To bound
// check-in; payout items are read from a wider window around them.
type ReservationQuery struct {
	From           *time.Time
	To             *time.Time
	PreDays        int
	ItemsPre       int
	ItemsPost      int
	SentOffsetDays int
	Tolerance      decimal.Decimal
	// DryRun lists eligible bookings without flipping them.
	DryRun bool
	Actor  string
}

// DefaultReservationQuery returns the configured defaults.
func (s *Service) DefaultReservationQuery() ReservationQuery {
	return ReservationQuery{
		PreDays:        s.cfg.Reservations.PreDays,
		ItemsPre:       s.cfg.Reservations.ItemsPre,
		ItemsPost:      s.cfg.Reservations.ItemsPost,
		SentOffsetDays: s.cfg.SentOffsetDays,
		Tolerance:      s.tolerance,
	}
}

// ReservationRow compares a booking with its payout report lines.
type ReservationRow struct {
	BookingID        string  `json:"bookingId"`
	ConfirmationCode string  `json:"confirmationCode"`
	UnitName         string  `json:"unitName"`
	StartDate        *string `json:"startDate"`
	EndDate          *string `json:"endDate"`
	PayoutReport     string  `json:"payoutReport"`
	AdjAmount        string  `json:"adjAmount"`
	Status           string  `json:"status"`
	CheckIn          string  `json:"checkIn"`
	CheckOut         string  `json:"checkOut"`
	PayoutSystem     *string `json:"payoutSystem"`
	Currency         string  `json:"currency"`
	IsPaid           bool    `json:"isPaid"`
	Eligible         bool    `json:"eligible"`
	Settled          bool    `json:"settled"`
}

// ReservationMeta echoes the effective parameters.
type ReservationMeta struct {
	From       *string `json:"from"`
	To         *string `json:"to"`
	Pre        int     `json:"pre"`
	ItemsPre   int     `json:"itemsPre"`
	ItemsPost  int     `json:"itemsPost"`
	SentOffset int     `json:"sentOffset"`
	Tolerance  string  `json:"tol"`
	DryRun     bool    `json:"dryRun"`
}

// ReservationListing is the settle listing. Warning is set when the flip
// batch was rolled back; the rows are still valid.
type ReservationListing struct {
	Count          int              `json:"count"`
	Settled        int              `json:"settled"`
	Rows           []ReservationRow `json:"data"`
	Meta           ReservationMeta  `json:"meta"`
	Warning        error            `json:"-"`
	WarningMessage string           `json:"warning,omitempty"`
}

type reportTotals struct {
	reservation decimal.Decimal
	hostTax     decimal.Decimal
	adjustment  decimal.Decimal
	adjFee      decimal.Decimal
	start       *time.Time
	end         *time.Time
	currency    string
}

func (t reportTotals) total() decimal.Decimal {
	return t.reservation.Add(t.hostTax).Add(t.adjustment).Add(t.adjFee)
}

// AutoSettle compares unpaid bookings with payout report totals and flips
// to paid every booking whose report dates equal its stay and whose amounts
// differ by at most the tolerance. All flips share one transaction. A failed
// flip is reported in Warning and never fails the listing.
func (s *Service) AutoSettle(ctx context.Context, q ReservationQuery) (ReservationListing, error) {
	start := time.Now()
	listing, err := s.autoSettle(ctx, q)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveListing("reservations", result, time.Since(start))
	return listing, err
}

func (s *Service) autoSettle(ctx context.Context, q ReservationQuery) (ReservationListing, error) {
	q.PreDays = clampDays(q.PreDays)
	q.ItemsPre = clampDays(q.ItemsPre)
	q.ItemsPost = clampDays(q.ItemsPost)
	q.SentOffsetDays = clampDays(q.SentOffsetDays)
	q.Tolerance = clampTolerance(q.Tolerance)
	listing := ReservationListing{Rows: []ReservationRow{}, Meta: ReservationMeta{
		From:       formatDate(q.From),
		To:         formatDate(q.To),
		Pre:        q.PreDays,
		ItemsPre:   q.ItemsPre,
		ItemsPost:  q.ItemsPost,
		SentOffset: q.SentOffsetDays,
		Tolerance:  q.Tolerance.StringFixed(2),
		DryRun:     q.DryRun,
	}}
	if err := checkRange(q.From, q.To); err != nil {
		return listing, err
	}

	bookings, err := s.store.BookingsInScope(ctx, recon.BookingScope{
		Source:      s.cfg.Reservations.Source,
		CheckInFrom: shift(q.From, -q.PreDays),
		CheckInTo:   q.To,
	})
	if err != nil {
		return listing, err
	}
	if len(bookings) == 0 {
		return listing, nil
	}

	codes := make([]string, 0, len(bookings))
	for _, b := range bookings {
		if code := strings.ToLower(strings.TrimSpace(b.ConfirmationCode)); code != "" {
			codes = append(codes, code)
		}
	}
	items, err := s.store.ItemsInScope(ctx, recon.ItemScope{
		ConfirmationCodes: codes,
		SentFrom:          shift(q.From, -q.ItemsPre),
		SentTo:            shift(q.To, q.ItemsPost),
		SentOffsetDays:    q.SentOffsetDays,
	})
	if err != nil {
		return listing, err
	}
	totals := aggregateItems(items)

	sort.SliceStable(bookings, func(i, j int) bool {
		if !bookings[i].CheckIn.Equal(bookings[j].CheckIn) {
			return bookings[i].CheckIn.Before(bookings[j].CheckIn)
		}
		return bookings[i].ConfirmationCode < bookings[j].ConfirmationCode
	})

	var eligible []string
	for _, b := range bookings {
		t, hasReport := totals[strings.ToLower(strings.TrimSpace(b.ConfirmationCode))]
		row := ReservationRow{
			BookingID:        b.ID,
			ConfirmationCode: b.ConfirmationCode,
			UnitName:         b.UnitName,
			PayoutReport:     "0.00",
			AdjAmount:        "0.00",
			Status:           b.Status,
			CheckIn:          b.CheckIn.Format(dateLayout),
			CheckOut:         b.CheckOut.Format(dateLayout),
			IsPaid:           b.IsPaid,
		}
		if b.ReportedPayoutAmount.Valid {
			v := b.ReportedPayoutAmount.Decimal.StringFixed(2)
			row.PayoutSystem = &v
		}
		if hasReport {
			row.StartDate = formatDate(t.start)
			row.EndDate = formatDate(t.end)
			row.PayoutReport = t.total().StringFixed(2)
			row.AdjAmount = t.adjustment.StringFixed(2)
			row.Currency = t.currency
			row.Eligible = settleable(b, t, q.Tolerance)
		}
		if row.Eligible {
			eligible = append(eligible, b.ID)
		}
		listing.Rows = append(listing.Rows, row)
	}
	listing.Count = len(listing.Rows)

	if q.DryRun || len(eligible) == 0 {
		return listing, nil
	}
	flipped, err := s.store.SettleBookings(ctx, eligible)
	if err != nil {
		metrics.IncSettleFailure()
		listing.Warning = &recon.PersistenceError{Op: "settle bookings", Err: err}
		listing.WarningMessage = listing.Warning.Error()
		s.logger.Printf("recon settle: %d eligible bookings rolled back: %v", len(eligible), err)
		return listing, nil
	}
	settled := make(map[string]struct{}, len(flipped))
	for _, id := range flipped {
		settled[id] = struct{}{}
	}
	for i := range listing.Rows {
		if _, ok := settled[listing.Rows[i].BookingID]; ok {
			listing.Rows[i].Settled = true
			listing.Rows[i].IsPaid = true
		}
	}
	n := len(flipped)
	listing.Settled = n
	metrics.AddSettled(n)
	if n != len(eligible) {
		s.logger.Printf("recon settle: %d of %d eligible bookings were already paid", len(eligible)-n, len(eligible))
	}
	s.logger.Printf("recon settle: eligible=%d settled=%d actor=%s", len(eligible), n, q.Actor)
	if n > 0 {
		s.publishSettled(ctx, flipped, n, q.Actor)
	}
	return listing, nil
}

// settleable requires a report, exact stay dates and the amount within tolerance.
func settleable(b payouts.Booking, t reportTotals, tol decimal.Decimal) bool {
	if t.start == nil || t.end == nil || !b.ReportedPayoutAmount.Valid {
		return false
	}
	if !sameDay(*t.start, b.CheckIn) || !sameDay(*t.end, b.CheckOut) {
		return false
	}
	return t.total().Sub(b.ReportedPayoutAmount.Decimal).Abs().LessThanOrEqual(tol)
}

func aggregateItems(items []payouts.PayoutItem) map[string]reportTotals {
	out := make(map[string]reportTotals)
	for _, it := range items {
		code := strings.ToLower(strings.TrimSpace(it.ConfirmationCode))
		if code == "" {
			continue
		}
		t := out[code]
		amount := decimal.Zero
		if it.Amount.Valid {
			amount = it.Amount.Decimal
		}
		switch it.LineType {
		case payouts.LineReservation:
			t.reservation = t.reservation.Add(amount)
		case payouts.LineHostTax:
			t.hostTax = t.hostTax.Add(amount)
		case payouts.LineAdjustment:
			t.adjustment = t.adjustment.Add(amount)
			if it.ServiceFee.Valid {
				t.adjFee = t.adjFee.Add(it.ServiceFee.Decimal)
			}
		}
		t.start = laterOf(t.start, it.StartDate)
		t.end = laterOf(t.end, it.EndDate)
		if it.Currency > t.currency {
			t.currency = it.Currency
		}
		out[code] = t
	}
	return out
}

func laterOf(a, b *time.Time) *time.Time {
	if b == nil {
		return a
	}
	if a == nil || b.After(*a) {
		return b
	}
	return a
}

func sameDay(a, b time.Time) bool {
	return a.Format(dateLayout) == b.Format(dateLayout)
}

func (s *Service) publishSettled(ctx context.Context, ids []string, n int, actor string) {
	if s.publisher == nil {
		return
	}
	event := recon.BookingsSettled{BookingIDs: ids, Settled: n, Actor: actor, OccurredAt: s.clock.Now().UTC()}
	if err := s.publisher.PublishBookingsSettled(ctx, event); err != nil {
		s.logger.Printf("recon settle: publish: %v", err)
	}
}
