package payouts

import (
	"context"
	"time"
)

// PayoutWriter upserts payout report batches.
type PayoutWriter interface {
	// UpsertPayout inserts or updates by case-insensitive reference code and
	// returns the stored id and whether it was created.
	UpsertPayout(ctx context.Context, p *Payout) (id string, created bool, err error)
	// UpsertItem inserts or updates by payout id and ItemKey.
	UpsertItem(ctx context.Context, item *PayoutItem) (created bool, err error)
}

// PayoutQuery filters payouts by sent date.
type PayoutQuery struct {
	SentFrom       *time.Time
	SentTo         *time.Time
	SentOffsetDays int
	IncludeChecked bool
	// UnlinkedOnly keeps payouts with no recon check and no linked entry.
	UnlinkedOnly bool
	Limit        int
}

// PayoutReader reads payouts.
type PayoutReader interface {
	GetPayout(ctx context.Context, id string) (*Payout, error)
	ListPayouts(ctx context.Context, q PayoutQuery) ([]Payout, error)
}

// BankEntryWriter upserts bank statement credits by fingerprint.
type BankEntryWriter interface {
	UpsertBankEntry(ctx context.Context, e *BankEntry) (created bool, err error)
}
