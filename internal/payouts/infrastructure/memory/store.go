package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	payouts "ledger-recon/internal/payouts/domain"
)

// Store keeps payouts, payout items, bookings and bank entries in memory
// for demo/testing.
type Store struct {
	mu       sync.RWMutex
	payouts  map[string]*payouts.Payout
	byRef    map[string]string
	items    map[string]*payouts.PayoutItem
	itemKeys map[string]string
	bookings map[string]*payouts.Booking
	bank     map[string]*payouts.BankEntry
	byPrint  map[string]string
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		payouts:  make(map[string]*payouts.Payout),
		byRef:    make(map[string]string),
		items:    make(map[string]*payouts.PayoutItem),
		itemKeys: make(map[string]string),
		bookings: make(map[string]*payouts.Booking),
		bank:     make(map[string]*payouts.BankEntry),
		byPrint:  make(map[string]string),
	}
}

// Lock and Unlock expose the write lock to stores composing this one, so a
// reconciliation write can span payouts and bank entries.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// UpsertPayout inserts or updates a payout by reference code. Recon state is
// kept on update.
func (s *Store) UpsertPayout(ctx context.Context, p *payouts.Payout) (string, bool, error) {
	_ = ctx
	if p == nil {
		return "", false, payouts.ErrNilPayout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := strings.ToLower(strings.TrimSpace(p.ReferenceCode))
	if id, ok := s.byRef[ref]; ok {
		existing := s.payouts[id]
		existing.PayoutDate = p.PayoutDate
		existing.ArrivingBy = p.ArrivingBy
		existing.Amount = p.Amount
		existing.Currency = p.Currency
		existing.MethodRaw = p.MethodRaw
		existing.UpdatedAt = p.UpdatedAt
		return id, false, nil
	}
	cp := *p
	s.payouts[cp.ID] = &cp
	s.byRef[ref] = cp.ID
	return cp.ID, true, nil
}

// UpsertItem inserts or updates an item by payout and item key.
func (s *Store) UpsertItem(ctx context.Context, item *payouts.PayoutItem) (bool, error) {
	_ = ctx
	if item == nil {
		return false, payouts.ErrNilPayout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := item.PayoutID + "|" + item.ItemKey()
	if id, ok := s.itemKeys[key]; ok {
		cp := *item
		cp.ID = id
		s.items[id] = &cp
		return false, nil
	}
	cp := *item
	s.items[cp.ID] = &cp
	s.itemKeys[key] = cp.ID
	return true, nil
}

// UpsertBankEntry inserts a bank credit unless its fingerprint is known.
func (s *Store) UpsertBankEntry(ctx context.Context, e *payouts.BankEntry) (bool, error) {
	_ = ctx
	if e == nil {
		return false, payouts.ErrBankEntryNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPrint[e.Fingerprint]; ok {
		existing := s.bank[id]
		existing.Concept = e.Concept
		existing.Currency = e.Currency
		existing.SourceFile = e.SourceFile
		return false, nil
	}
	cp := *e
	s.bank[cp.ID] = &cp
	s.byPrint[cp.Fingerprint] = cp.ID
	return true, nil
}

// AddBooking stores a booking. Bookings are owned by another subsystem; this
// seeds them for demo/testing.
func (s *Store) AddBooking(b payouts.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := b
	s.bookings[cp.ID] = &cp
}

// GetPayout returns a copy of a payout.
func (s *Store) GetPayout(ctx context.Context, id string) (*payouts.Payout, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, payouts.ErrPayoutNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPayouts filters payouts by sent date, newest first.
func (s *Store) ListPayouts(ctx context.Context, q payouts.PayoutQuery) ([]payouts.Payout, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]payouts.Payout, 0, len(s.payouts))
	for _, p := range s.payouts {
		if payoutMatches(*p, q) {
			out = append(out, *p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		di, _ := out[i].SentDate(q.SentOffsetDays)
		dj, _ := out[j].SentDate(q.SentOffsetDays)
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return out[i].ReferenceCode > out[j].ReferenceCode
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func payoutMatches(p payouts.Payout, q payouts.PayoutQuery) bool {
	if !q.IncludeChecked && p.IsChecked() {
		return false
	}
	if q.UnlinkedOnly && (p.IsChecked() || p.LinkedEntryID != "") {
		return false
	}
	if q.SentFrom == nil && q.SentTo == nil {
		return true
	}
	sent, ok := p.SentDate(q.SentOffsetDays)
	if !ok {
		return false
	}
	if q.SentFrom != nil && sent.Before(*q.SentFrom) {
		return false
	}
	if q.SentTo != nil && sent.After(*q.SentTo) {
		return false
	}
	return true
}

// Items returns copies of the items of a payout.
func (s *Store) Items(payoutID string) []payouts.PayoutItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []payouts.PayoutItem
	for _, it := range s.items {
		if it.PayoutID == payoutID {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemKey() < out[j].ItemKey() })
	return out
}

// ItemsSentBetween returns items whose payout was sent within [from, to],
// paired with that sent date.
func (s *Store) ItemsSentBetween(from, to time.Time, offsetDays int) []SentItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SentItem
	for _, it := range s.items {
		p, ok := s.payouts[it.PayoutID]
		if !ok {
			continue
		}
		sent, ok := p.SentDate(offsetDays)
		if !ok || sent.Before(from) || sent.After(to) {
			continue
		}
		out = append(out, SentItem{Item: *it, SentDate: sent})
	}
	return out
}

// SentItem is a payout item with the sent date of its payout.
type SentItem struct {
	Item     payouts.PayoutItem
	SentDate time.Time
}

// Bookings returns copies of all bookings ordered by check-in.
func (s *Store) Bookings() []payouts.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]payouts.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckIn.Equal(out[j].CheckIn) {
			return out[i].CheckIn.Before(out[j].CheckIn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BankEntries returns copies of all bank entries ordered by date.
func (s *Store) BankEntries() []payouts.BankEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]payouts.BankEntry, 0, len(s.bank))
	for _, e := range s.bank {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetBankEntry returns a copy of a bank entry.
func (s *Store) GetBankEntry(ctx context.Context, id string) (*payouts.BankEntry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.bank[id]
	if !ok {
		return nil, payouts.ErrBankEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// The *Locked methods below require the caller to hold Lock.

// PayoutLocked returns the stored payout for in-place update.
func (s *Store) PayoutLocked(id string) (*payouts.Payout, bool) {
	p, ok := s.payouts[id]
	return p, ok
}

// BankEntryLocked returns the stored bank entry for in-place update.
func (s *Store) BankEntryLocked(id string) (*payouts.BankEntry, bool) {
	e, ok := s.bank[id]
	return e, ok
}

// BookingLocked returns the stored booking for in-place update.
func (s *Store) BookingLocked(id string) (*payouts.Booking, bool) {
	b, ok := s.bookings[id]
	return b, ok
}
