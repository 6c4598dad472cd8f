package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	ledger "ledger-recon/internal/ledger/domain"
	"ledger-recon/internal/ledger/infrastructure/memory"
	"ledger-recon/internal/ledger/normalize"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testHeaders = []string{"Fecha", "Tipo de movimiento", "Tipo de pago", "Concepto", "Depósito", "Comisión"}

func row(date, movement, payment, concept, deposit, fee string) []normalize.Cell {
	return []normalize.Cell{
		normalize.Text(date), normalize.Text(movement), normalize.Text(payment),
		normalize.Text(concept), normalize.Text(deposit), normalize.Text(fee),
	}
}

func newTestService(t *testing.T, store ledger.EntryStore) *IngestService {
	t.Helper()
	svc, err := NewIngestService(store, fixedClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func request(rows ...[]normalize.Cell) IngestRequest {
	return IngestRequest{Filename: "ledger.xlsx", Sheet: "Sheet1", Headers: testHeaders, Rows: rows, Actor: "u-1"}
}

func activeEntries(store *memory.EntryStore) map[string][]ledger.Entry {
	out := make(map[string][]ledger.Entry)
	for _, e := range store.Entries() {
		if e.Active {
			out[e.GroupKey] = append(out[e.GroupKey], e)
		}
	}
	return out
}

func TestIngestInsertsThenDeduplicates(t *testing.T) {
	store := memory.NewEntryStore()
	svc := newTestService(t, store)
	req := request(row("04/02/2025", "Abono", "Transferencia", "Rent", "1,000.00", "50.00"))

	first, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Inserted != 1 || first.Duplicates != 0 || first.RowsRead != 1 {
		t.Fatalf("unexpected first summary %+v", first)
	}
	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if got := e.NetAmount.Decimal.StringFixed(2); got != "950.00" {
		t.Fatalf("net = %s, want 950.00", got)
	}
	if e.SourceRow != 2 || e.SourceFile != "ledger.xlsx" || !e.Active {
		t.Fatalf("unexpected provenance %+v", e)
	}
	if e.ImportID == "" || len(store.Imports()) != 1 || first.ImportID != e.ImportID {
		t.Fatalf("expected entry linked to its import")
	}

	second, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Inserted != 0 || second.Duplicates != 1 || second.Superseded != 0 {
		t.Fatalf("unexpected second summary %+v", second)
	}
	if len(store.Entries()) != 1 {
		t.Fatalf("re-ingest wrote entries")
	}
}

func TestIngestSupersedesChangedRow(t *testing.T) {
	store := memory.NewEntryStore()
	svc := newTestService(t, store)
	if _, err := svc.Ingest(context.Background(), request(row("04/02/2025", "Abono", "Transferencia", "Rent", "1,000.00", "50.00"))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	summary, err := svc.Ingest(context.Background(), request(row("04/02/2025", "abono", "Transferencia", "Rent ", "1,100.00", "50.00")))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.Superseded != 1 || summary.Inserted != 0 || summary.Duplicates != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Changes) != 1 || !strings.Contains(summary.Changes[0].Summary, "deposito") {
		t.Fatalf("expected a deposito change, got %+v", summary.Changes)
	}
	if !strings.Contains(summary.Changes[0].Summary, `"1000.00" → "1100.00"`) {
		t.Fatalf("unexpected change text %q", summary.Changes[0].Summary)
	}

	var oldEntry, newEntry ledger.Entry
	for _, e := range store.Entries() {
		if e.Active {
			newEntry = e
		} else {
			oldEntry = e
		}
	}
	if newEntry.Deposit.Decimal.StringFixed(2) != "1100.00" {
		t.Fatalf("active entry has deposit %s", newEntry.Deposit.Decimal)
	}
	if oldEntry.SupersededAt == nil || oldEntry.SuccessorID != newEntry.ID || newEntry.PredecessorID != oldEntry.ID {
		t.Fatalf("supersession links missing: old=%+v new=%+v", oldEntry, newEntry)
	}
	if oldEntry.SupersededByHash != newEntry.ContentHash || oldEntry.ChangeSummary != summary.Changes[0].Summary {
		t.Fatalf("supersession metadata missing on old entry")
	}
	for key, active := range activeEntries(store) {
		if len(active) != 1 {
			t.Fatalf("group %s has %d active entries", key, len(active))
		}
	}
}

func TestIngestSkipsRowsWithoutUsableDates(t *testing.T) {
	store := memory.NewEntryStore()
	svc := newTestService(t, store)
	summary, err := svc.Ingest(context.Background(), request(
		row("", "Abono", "", "no date", "10", ""),
		row("sometime", "Abono", "", "bad date", "10", ""),
		row("Febrero 05, 2025", "Abono", "", "ok", "10", ""),
	))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.RowsRead != 3 || summary.RowsWithNoDate != 1 || summary.UnparsedDates != 1 || summary.Inserted != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Issues) != 1 || summary.Issues[0].Row != 3 || summary.Issues[0].Raw != "sometime" {
		t.Fatalf("unexpected issues %+v", summary.Issues)
	}
}

func TestIngestRepeatsWithinOneFile(t *testing.T) {
	store := memory.NewEntryStore()
	svc := newTestService(t, store)
	summary, err := svc.Ingest(context.Background(), request(
		row("04/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
		row("04/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
		row("04/02/2025", "Abono", "Transferencia", "Rent", "1200", "50"),
	))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.Inserted != 1 || summary.Duplicates != 1 || summary.Superseded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := len(store.Entries()); got != 2 {
		t.Fatalf("expected 2 stored versions, got %d", got)
	}
	if active := activeEntries(store); len(active) != 1 {
		t.Fatalf("expected one active group, got %d", len(active))
	}
}

func TestIngestDryRunWritesNothing(t *testing.T) {
	store := memory.NewEntryStore()
	svc := newTestService(t, store)
	req := request(
		row("04/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
		row("05/02/2025", "Cargo", "Tarjeta", "Fee", "", "12"),
	)
	req.DryRun = true

	summary, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !summary.DryRun || summary.Inserted != 2 || summary.ImportID != "" {
		t.Fatalf("unexpected dry run summary %+v", summary)
	}
	if len(store.Entries()) != 0 || len(store.Imports()) != 0 {
		t.Fatalf("dry run persisted data")
	}

	req.DryRun = false
	committed, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("real run: %v", err)
	}
	if committed.Inserted != summary.Inserted || committed.Duplicates != summary.Duplicates {
		t.Fatalf("dry run %+v disagrees with real run %+v", summary, committed)
	}
}

func TestIngestDebugBlock(t *testing.T) {
	svc := newTestService(t, memory.NewEntryStore())
	req := request(
		row("04/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
		row("05/02/2025", "Abono", "Transferencia", "Rent", "2000", "200"),
		row("06/02/2025", "Cargo", "Transferencia", "Out", "", ""),
	)
	req.Debug = true
	req.DryRun = true

	summary, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	d := summary.Debug
	if d == nil {
		t.Fatalf("expected debug info")
	}
	if d.HeaderMap["fecha"] != 0 || d.HeaderMap["comision"] != 5 {
		t.Fatalf("unexpected header map %v", d.HeaderMap)
	}
	if len(d.Samples) != 2 || d.Samples[0].Net != "950.00" {
		t.Fatalf("unexpected samples %+v", d.Samples)
	}
	if d.Ratios.Count != 2 || d.Ratios.Median != "0.0750" || d.Ratios.P90 != "0.1000" {
		t.Fatalf("unexpected ratios %+v", d.Ratios)
	}
	if summary.AmbiguousDates != 3 {
		t.Fatalf("expected 3 ambiguous dates, got %d", summary.AmbiguousDates)
	}
}

func TestIngestValidation(t *testing.T) {
	svc := newTestService(t, memory.NewEntryStore())
	cases := []IngestRequest{
		{Headers: testHeaders},
		{Filename: "a.csv"},
		{Filename: "a.csv", Headers: []string{"Concepto", "Deposito"}},
	}
	for i, req := range cases {
		_, err := svc.Ingest(context.Background(), req)
		var verr *ledger.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestIngestCommitFailureReturnsPartialCounts(t *testing.T) {
	store := memory.NewEntryStore()
	store.FailNextCommit(errors.New("disk full"))
	svc := newTestService(t, store)

	summary, err := svc.Ingest(context.Background(), request(
		row("04/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
		row("05/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
	))
	var perr *ledger.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if perr.Stage != "commit" || perr.Counts.Inserted != 2 || summary.Inserted != 2 {
		t.Fatalf("unexpected error context %+v / %+v", perr, summary)
	}
	if len(store.Entries()) != 0 {
		t.Fatalf("failed run left entries behind")
	}
}

type failingStore struct {
	*memory.EntryStore
	failAfter int
}

func (s failingStore) BeginIngest(ctx context.Context, imp ledger.Import) (ledger.IngestTx, error) {
	tx, err := s.EntryStore.BeginIngest(ctx, imp)
	if err != nil {
		return nil, err
	}
	return &failingTx{IngestTx: tx, failAfter: s.failAfter}, nil
}

type failingTx struct {
	ledger.IngestTx
	failAfter int
	inserts   int
}

func (tx *failingTx) Insert(ctx context.Context, e *ledger.Entry) error {
	if tx.inserts == tx.failAfter {
		return errors.New("connection reset")
	}
	tx.inserts++
	return tx.IngestTx.Insert(ctx, e)
}

func TestIngestInsertFailureRollsBack(t *testing.T) {
	store := failingStore{EntryStore: memory.NewEntryStore(), failAfter: 1}
	svc := newTestService(t, store)

	_, err := svc.Ingest(context.Background(), request(
		row("04/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
		row("05/02/2025", "Abono", "Transferencia", "Rent", "1000", "50"),
	))
	var perr *ledger.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if perr.Stage != "insert" || perr.Row != 3 || perr.Counts.Inserted != 1 || perr.GroupKey == "" {
		t.Fatalf("unexpected error context %+v", perr)
	}
	if len(store.Entries()) != 0 {
		t.Fatalf("rolled back run left entries behind")
	}
}

func TestConcurrentIngestKeepsOneActivePerGroup(t *testing.T) {
	store := memory.NewEntryStore()
	svc := newTestService(t, store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(row("04/02/2025", "Abono", "Transferencia", "Rent", fmt.Sprintf("%d.00", 1000+i), "50"))
			req.Filename = fmt.Sprintf("ledger-%d.csv", i)
			_, err := svc.Ingest(context.Background(), req)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ledger.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded == 0 {
		t.Fatalf("expected at least one run to commit")
	}
	for key, active := range activeEntries(store) {
		if len(active) != 1 {
			t.Fatalf("group %s has %d active entries", key, len(active))
		}
	}
	if got := len(store.Entries()); got != succeeded {
		t.Fatalf("expected %d stored versions, got %d", succeeded, got)
	}
}
