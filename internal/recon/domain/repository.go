package recon

import (
	"context"
	"time"

	ledger "ledger-recon/internal/ledger/domain"
	payouts "ledger-recon/internal/payouts/domain"
)

// PoolQuery selects pool records that may qualify for an anchor. Stores
// pre-filter by window and tolerance, order by closeness and apply Limit.
type PoolQuery struct {
	Anchor Anchor
	Window Window
	Limit  int
	// UnlinkedOnly drops records already confirmed against a counterpart.
	UnlinkedOnly bool
	// SentOffsetDays derives the sent date of payouts lacking a payout date.
	SentOffsetDays int
}

// InflowQuery selects unlinked ledger inflows, newest first.
type InflowQuery struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

// BookingScope selects unpaid, non-cancelled bookings of a source whose
// check-in falls in range. Units paid directly by the client are excluded.
type BookingScope struct {
	Source      string
	CheckInFrom *time.Time
	CheckInTo   *time.Time
}

// ItemScope selects payout items by confirmation code and sent date of
// their payout.
type ItemScope struct {
	ConfirmationCodes []string
	SentFrom          *time.Time
	SentTo            *time.Time
	SentOffsetDays    int
}

// Confirmation is one checked pair to persist.
type Confirmation struct {
	PayoutID string
	EntryID  string
	Pool     Pool
	Actor    string
	At       time.Time
}

// Reader answers the read side of reconciliation.
type Reader interface {
	GetPayout(ctx context.Context, id string) (*payouts.Payout, error)
	ListPayouts(ctx context.Context, q payouts.PayoutQuery) ([]payouts.Payout, error)
	PoolCandidates(ctx context.Context, pool Pool, q PoolQuery) ([]Record, error)
	UnlinkedInflows(ctx context.Context, q InflowQuery) ([]Record, error)
	GetLedgerEntry(ctx context.Context, id string) (*ledger.Entry, error)
	GetBankEntry(ctx context.Context, id string) (*payouts.BankEntry, error)
	BookingsInScope(ctx context.Context, scope BookingScope) ([]payouts.Booking, error)
	ItemsInScope(ctx context.Context, scope ItemScope) ([]payouts.PayoutItem, error)
}

// Writer persists reconciliation state changes.
type Writer interface {
	// ConfirmPair stamps and cross-links both sides atomically. It returns
	// ErrAlreadyLinked when either side was checked meanwhile.
	ConfirmPair(ctx context.Context, c Confirmation) error
	// SettleBookings flips is_paid to true for every id in one transaction
	// and returns the ids whose row actually changed.
	SettleBookings(ctx context.Context, bookingIDs []string) ([]string, error)
}

// Store is the persistence of reconciliation.
type Store interface {
	Reader
	Writer
}
