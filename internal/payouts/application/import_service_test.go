package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ledger-recon/internal/ledger/normalize"
	payouts "ledger-recon/internal/payouts/domain"
	"ledger-recon/internal/payouts/infrastructure/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var reportHeaders = []string{
	"Date", "Arriving by date", "Type", "Confirmation code", "Start date", "End date", "Nights",
	"Guest", "Listing", "Details", "Reference code", "Currency", "Amount", "Paid out", "Service fee",
	"Gross earnings", "Cleaning fee",
}

func reportRow(values ...string) []normalize.Cell {
	row := make([]normalize.Cell, len(reportHeaders))
	for i := range row {
		row[i] = normalize.Text("")
	}
	for i, v := range values {
		row[i] = normalize.Text(v)
	}
	return row
}

func sampleReport() [][]normalize.Cell {
	return [][]normalize.Cell{
		reportRow("06/10/2025", "06/12/2025", "Payout", "", "", "", "", "", "",
			"Transfer to Sasanero Coordinadora de Servicios, Inc., 1234 (MXN)", "G-ABC123", "MXN", "", "5,250.00"),
		reportRow("06/10/2025", "", "Reservation", "HM123", "06/01/2025", "06/05/2025", "4",
			"Ana", "Casa Azul", "", "", "MXN", "5,000.00", "", "150.00", "5,150.00", "300.00"),
		reportRow("06/10/2025", "", "Host Remitted Tax", "HM123", "06/01/2025", "06/05/2025", "", "", "Casa Azul",
			"", "", "MXN", "250.00"),
		reportRow("06/10/2025", "", "Co-Host Fee", ""),
	}
}

func newImporter(t *testing.T) (*ImportService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc, err := NewImportService(store, fixedClock{t: time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)}, nil)
	if err != nil {
		t.Fatalf("new import service: %v", err)
	}
	return svc, store
}

func TestImportCreatesBatchAndItems(t *testing.T) {
	svc, store := newImporter(t)
	res, err := svc.Import(context.Background(), ImportRequest{Filename: "airbnb.csv", Headers: reportHeaders, Rows: sampleReport()})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Batches != 1 || res.Created != 1 || res.Items != 2 || res.ItemsCreated != 2 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	list, err := store.ListPayouts(context.Background(), payouts.PayoutQuery{IncludeChecked: true})
	if err != nil || len(list) != 1 {
		t.Fatalf("list payouts: %v %d", err, len(list))
	}
	p := list[0]
	if p.ReferenceCode != "G-ABC123" || p.Amount.StringFixed(2) != "5250.00" || p.Currency != "MXN" {
		t.Fatalf("unexpected payout %+v", p)
	}
	if p.PayoutDate == nil || p.PayoutDate.Month() != time.June || p.PayoutDate.Day() != 10 {
		t.Fatalf("expected month-first payout date, got %v", p.PayoutDate)
	}
	items := store.Items(p.ID)
	if len(items) != 2 || items[1].LineType != payouts.LineReservation || items[1].Nights != 4 {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestImportTwiceUpdatesInPlace(t *testing.T) {
	svc, store := newImporter(t)
	ctx := context.Background()
	req := ImportRequest{Filename: "airbnb.csv", Headers: reportHeaders, Rows: sampleReport()}
	if _, err := svc.Import(ctx, req); err != nil {
		t.Fatalf("first import: %v", err)
	}
	res, err := svc.Import(ctx, req)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 || res.ItemsCreated != 0 || res.ItemsUpdated != 2 {
		t.Fatalf("expected updates only, got %+v", res)
	}
	list, _ := store.ListPayouts(ctx, payouts.PayoutQuery{IncludeChecked: true})
	if len(list) != 1 || len(store.Items(list[0].ID)) != 2 {
		t.Fatalf("expected one payout with two items")
	}
}

func TestImportDerivesMissingReference(t *testing.T) {
	svc, store := newImporter(t)
	rows := [][]normalize.Cell{
		reportRow("06/10/2025", "", "Payout", "", "", "", "", "", "", "Espiral 4412", "", "MXN", "", "800.00"),
		reportRow("06/11/2025", "", "Payout", "", "", "", "", "", "", "Espiral 4412", "", "MXN", "", "800.00"),
	}
	res, err := svc.Import(context.Background(), ImportRequest{Filename: "cohost.csv", Headers: reportHeaders, Rows: rows})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("expected two distinct batches, got %+v", res)
	}
	list, _ := store.ListPayouts(context.Background(), payouts.PayoutQuery{IncludeChecked: true})
	for _, p := range list {
		if !strings.HasPrefix(p.ReferenceCode, "COHOST-") || len(p.ReferenceCode) != len("COHOST-")+16 {
			t.Fatalf("unexpected derived reference %q", p.ReferenceCode)
		}
	}
}

func TestImportCountsOrphanItems(t *testing.T) {
	svc, _ := newImporter(t)
	rows := [][]normalize.Cell{
		reportRow("06/10/2025", "", "Reservation", "HM999", "06/01/2025", "06/03/2025", "2"),
	}
	res, err := svc.Import(context.Background(), ImportRequest{Filename: "x.csv", Headers: reportHeaders, Rows: rows})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Orphans != 1 || res.Items != 0 {
		t.Fatalf("expected one orphan, got %+v", res)
	}
}

func TestImportRequiresTypeAndDate(t *testing.T) {
	svc, _ := newImporter(t)
	_, err := svc.Import(context.Background(), ImportRequest{Filename: "x.csv", Headers: []string{"Amount"}})
	if !errors.Is(err, payouts.ErrMissingColumns) {
		t.Fatalf("expected missing columns, got %v", err)
	}
}
