package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	ledger "ledger-recon/internal/ledger/domain"
	ledgermemory "ledger-recon/internal/ledger/infrastructure/memory"
	payouts "ledger-recon/internal/payouts/domain"
	payoutsmemory "ledger-recon/internal/payouts/infrastructure/memory"
	recon "ledger-recon/internal/recon/domain"
)

// Store serves reconciliation from the in-memory ledger and payout stores.
type Store struct {
	ledger  *ledgermemory.EntryStore
	payouts *payoutsmemory.Store

	mu         sync.Mutex
	failSettle error
}

// NewStore composes the two stores.
func NewStore(entries *ledgermemory.EntryStore, payoutStore *payoutsmemory.Store) *Store {
	return &Store{ledger: entries, payouts: payoutStore}
}

// FailNextSettle makes the next SettleBookings return err without flipping.
func (s *Store) FailNextSettle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSettle = err
}

func (s *Store) GetPayout(ctx context.Context, id string) (*payouts.Payout, error) {
	return s.payouts.GetPayout(ctx, id)
}

func (s *Store) ListPayouts(ctx context.Context, q payouts.PayoutQuery) ([]payouts.Payout, error) {
	return s.payouts.ListPayouts(ctx, q)
}

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*ledger.Entry, error) {
	return s.ledger.Get(ctx, id)
}

func (s *Store) GetBankEntry(ctx context.Context, id string) (*payouts.BankEntry, error) {
	return s.payouts.GetBankEntry(ctx, id)
}

// PoolCandidates filters a pool by window and tolerance and keeps the
// closest Limit records.
func (s *Store) PoolCandidates(ctx context.Context, pool recon.Pool, q recon.PoolQuery) ([]recon.Record, error) {
	var all []recon.Record
	switch pool {
	case recon.PoolLedger:
		for _, e := range s.ledger.Entries() {
			if !e.Active || !e.IsInflow() {
				continue
			}
			if q.UnlinkedOnly && e.Reconciliation.LinkedPayoutID != "" {
				continue
			}
			all = append(all, recon.Record{ID: e.ID, Date: e.Date, Amount: e.Deposit.Decimal, Label: deref(e.Concept)})
		}
	case recon.PoolBank:
		for _, e := range s.payouts.BankEntries() {
			if !e.Deposit.IsPositive() {
				continue
			}
			if q.UnlinkedOnly && e.LinkedPayoutID != "" {
				continue
			}
			all = append(all, recon.Record{ID: e.ID, Date: e.Date, Amount: e.Deposit, Label: e.Concept})
		}
	case recon.PoolPayout:
		list, err := s.payouts.ListPayouts(ctx, payouts.PayoutQuery{
			SentOffsetDays: q.SentOffsetDays,
			IncludeChecked: !q.UnlinkedOnly,
			UnlinkedOnly:   q.UnlinkedOnly,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			sent, ok := p.SentDate(q.SentOffsetDays)
			if !ok {
				continue
			}
			all = append(all, recon.Record{ID: p.ID, Date: sent, Amount: p.Amount, Label: p.ReferenceCode, ArrivingBy: p.ArrivingBy})
		}
	default:
		return nil, recon.ErrUnsupportedMethod
	}
	return closest(all, q), nil
}

func closest(all []recon.Record, q recon.PoolQuery) []recon.Record {
	from, to := q.Window.From(q.Anchor.Date), q.Window.To(q.Anchor.Date)
	out := make([]recon.Record, 0, len(all))
	for _, r := range all {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		if r.Amount.Sub(q.Anchor.Amount).Abs().GreaterThan(q.Window.Tolerance) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di := out[i].Amount.Sub(q.Anchor.Amount).Abs()
		dj := out[j].Amount.Sub(q.Anchor.Amount).Abs()
		if c := di.Cmp(dj); c != 0 {
			return c < 0
		}
		ddi, ddj := recon.DaysBetween(out[i].Date, q.Anchor.Date), recon.DaysBetween(out[j].Date, q.Anchor.Date)
		if ddi != ddj {
			return ddi < ddj
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// UnlinkedInflows lists active unlinked inflows, newest first.
func (s *Store) UnlinkedInflows(ctx context.Context, q recon.InflowQuery) ([]recon.Record, error) {
	_ = ctx
	var out []recon.Record
	for _, e := range s.ledger.Entries() {
		if !e.Active || !e.IsInflow() || e.Reconciliation.LinkedPayoutID != "" {
			continue
		}
		if q.From != nil && e.Date.Before(*q.From) {
			continue
		}
		if q.To != nil && e.Date.After(*q.To) {
			continue
		}
		out = append(out, recon.Record{ID: e.ID, Date: e.Date, Amount: e.Deposit.Decimal, Label: deref(e.Concept)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// BookingsInScope filters the seeded bookings.
func (s *Store) BookingsInScope(ctx context.Context, scope recon.BookingScope) ([]payouts.Booking, error) {
	_ = ctx
	var out []payouts.Booking
	for _, b := range s.payouts.Bookings() {
		if b.IsPaid || b.ClientPaid || b.IsCancelled() {
			continue
		}
		if scope.Source != "" && !strings.EqualFold(b.Source, scope.Source) {
			continue
		}
		if scope.CheckInFrom != nil && b.CheckIn.Before(*scope.CheckInFrom) {
			continue
		}
		if scope.CheckInTo != nil && b.CheckIn.After(*scope.CheckInTo) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ItemsInScope returns items of the given confirmation codes whose payout
// was sent within the scope.
func (s *Store) ItemsInScope(ctx context.Context, scope recon.ItemScope) ([]payouts.PayoutItem, error) {
	_ = ctx
	codes := make(map[string]struct{}, len(scope.ConfirmationCodes))
	for _, c := range scope.ConfirmationCodes {
		codes[strings.ToLower(c)] = struct{}{}
	}
	from := time.Time{}
	if scope.SentFrom != nil {
		from = *scope.SentFrom
	}
	to := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if scope.SentTo != nil {
		to = *scope.SentTo
	}
	var out []payouts.PayoutItem
	for _, si := range s.payouts.ItemsSentBetween(from, to, scope.SentOffsetDays) {
		if _, ok := codes[strings.ToLower(si.Item.ConfirmationCode)]; ok {
			out = append(out, si.Item)
		}
	}
	return out, nil
}

// ConfirmPair validates both sides before writing either, so a refused
// write leaves no partial state.
func (s *Store) ConfirmPair(ctx context.Context, c recon.Confirmation) error {
	_ = ctx
	at := c.At
	s.payouts.Lock()
	defer s.payouts.Unlock()

	p, ok := s.payouts.PayoutLocked(c.PayoutID)
	if !ok {
		return payouts.ErrPayoutNotFound
	}
	if p.ReconCheckedAt != nil || p.LinkedEntryID != "" {
		return recon.ErrAlreadyLinked
	}

	switch c.Pool {
	case recon.PoolLedger:
		err := s.ledger.UpdateReconciliation(c.EntryID, func(e *ledger.Entry) error {
			// a superseded or non-inflow row left the pool since it was read
			if e.Reconciliation.LinkedPayoutID != "" || !e.Active || !e.IsInflow() {
				return recon.ErrAlreadyLinked
			}
			e.Reconciliation = ledger.Reconciliation{CheckedAt: &at, CheckedBy: c.Actor, LinkedPayoutID: c.PayoutID}
			return nil
		})
		if err != nil {
			return err
		}
	case recon.PoolBank:
		e, ok := s.payouts.BankEntryLocked(c.EntryID)
		if !ok {
			return payouts.ErrBankEntryNotFound
		}
		if e.LinkedPayoutID != "" || !e.Deposit.IsPositive() {
			return recon.ErrAlreadyLinked
		}
		e.CheckedAt = &at
		e.CheckedBy = c.Actor
		e.LinkedPayoutID = c.PayoutID
	default:
		return recon.ErrUnsupportedMethod
	}

	p.ReconCheckedAt = &at
	p.ReconCheckedBy = c.Actor
	p.LinkedEntryID = c.EntryID
	return nil
}

// SettleBookings flips every listed booking or none and returns the ids
// that were still unpaid.
func (s *Store) SettleBookings(ctx context.Context, bookingIDs []string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	fail := s.failSettle
	s.failSettle = nil
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	s.payouts.Lock()
	defer s.payouts.Unlock()
	var targets []*payouts.Booking
	for _, id := range bookingIDs {
		b, ok := s.payouts.BookingLocked(id)
		if !ok {
			return nil, payouts.ErrBookingNotFound
		}
		targets = append(targets, b)
	}
	var flipped []string
	for _, b := range targets {
		if !b.IsPaid {
			b.IsPaid = true
			flipped = append(flipped, b.ID)
		}
	}
	return flipped, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ recon.Store = (*Store)(nil)
