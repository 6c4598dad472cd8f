package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ledger "ledger-recon/internal/ledger/domain"
	ledgermemory "ledger-recon/internal/ledger/infrastructure/memory"
	payouts "ledger-recon/internal/payouts/domain"
	payoutsmemory "ledger-recon/internal/payouts/infrastructure/memory"
	recon "ledger-recon/internal/recon/domain"
)

func day(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestClosestBreaksTiesByID(t *testing.T) {
	amt := decimal.RequireFromString("500.00")
	all := []recon.Record{
		{ID: "e-c", Date: day(12), Amount: amt},
		{ID: "e-a", Date: day(12), Amount: amt},
		{ID: "e-near", Date: day(11), Amount: amt},
		{ID: "e-b", Date: day(12), Amount: amt},
	}
	q := recon.PoolQuery{
		Anchor: recon.Anchor{Date: day(10), Amount: amt},
		Window: recon.Window{Tolerance: decimal.RequireFromString("1.00"), PreDays: 14, PostDays: 10},
		Limit:  3,
	}
	got := closest(all, q)
	want := []string{"e-near", "e-a", "e-b"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %+v", len(want), got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func newStores(t *testing.T, entries ...ledger.Entry) (*Store, *payoutsmemory.Store) {
	t.Helper()
	ctx := context.Background()
	ledgerStore := ledgermemory.NewEntryStore()
	tx, err := ledgerStore.BeginIngest(ctx, ledger.Import{ID: "import-1", Filename: "seed.xlsx"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := range entries {
		if err := tx.Insert(ctx, &entries[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	payoutStore := payoutsmemory.NewStore()
	sent := day(10)
	if _, _, err := payoutStore.UpsertPayout(ctx, &payouts.Payout{
		ID: "p-1", ReferenceCode: "G-1", PayoutDate: &sent, Amount: decimal.RequireFromString("500.00"), MethodRaw: "Espiral",
	}); err != nil {
		t.Fatalf("seed payout: %v", err)
	}
	return NewStore(ledgerStore, payoutStore), payoutStore
}

func ledgerEntry(id string, active bool, deposit string) ledger.Entry {
	return ledger.Entry{
		ID:          id,
		ContentHash: "hash-" + id,
		GroupKey:    "group-" + id,
		Active:      active,
		Fields: ledger.Fields{
			Date:    day(12),
			Deposit: decimal.NullDecimal{Decimal: decimal.RequireFromString(deposit), Valid: true},
		},
	}
}

func TestConfirmPairRefusesEntriesOutsideThePool(t *testing.T) {
	store, payoutStore := newStores(t,
		ledgerEntry("e-old", false, "500.00"),
		ledgerEntry("e-zero", true, "0.00"),
	)
	ctx := context.Background()
	for _, id := range []string{"e-old", "e-zero"} {
		err := store.ConfirmPair(ctx, recon.Confirmation{PayoutID: "p-1", EntryID: id, Pool: recon.PoolLedger, Actor: "ana", At: day(15)})
		if !errors.Is(err, recon.ErrAlreadyLinked) {
			t.Fatalf("%s: got %v, want ErrAlreadyLinked", id, err)
		}
	}
	p, _ := payoutStore.GetPayout(ctx, "p-1")
	if p.ReconCheckedAt != nil || p.LinkedEntryID != "" {
		t.Fatalf("refused confirm stamped the payout: %+v", p)
	}

	if _, err := payoutStore.UpsertBankEntry(ctx, &payouts.BankEntry{
		ID: "b-out", Fingerprint: "fp-out", Date: day(12), Deposit: decimal.RequireFromString("-500.00"),
	}); err != nil {
		t.Fatalf("seed bank entry: %v", err)
	}
	err := store.ConfirmPair(ctx, recon.Confirmation{PayoutID: "p-1", EntryID: "b-out", Pool: recon.PoolBank, Actor: "ana", At: day(15)})
	if !errors.Is(err, recon.ErrAlreadyLinked) {
		t.Fatalf("bank outflow: got %v, want ErrAlreadyLinked", err)
	}
}

func TestSettleBookingsReturnsOnlyFlippedIDs(t *testing.T) {
	store, payoutStore := newStores(t)
	paid := payouts.Booking{ID: "b-paid", ConfirmationCode: "HM1", IsPaid: true}
	payoutStore.AddBooking(paid)
	payoutStore.AddBooking(payouts.Booking{ID: "b-open", ConfirmationCode: "HM2"})

	flipped, err := store.SettleBookings(context.Background(), []string{"b-paid", "b-open"})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(flipped) != 1 || flipped[0] != "b-open" {
		t.Fatalf("expected only b-open flipped, got %v", flipped)
	}
	if _, err := store.SettleBookings(context.Background(), []string{"b-open", "nope"}); !errors.Is(err, payouts.ErrBookingNotFound) {
		t.Fatalf("expected missing booking error, got %v", err)
	}
}
