package application

import (
	"context"
	"errors"
	"testing"

	"ledger-recon/internal/ledger/normalize"
	payouts "ledger-recon/internal/payouts/domain"
	"ledger-recon/internal/payouts/infrastructure/memory"
)

func textRow(values ...string) []normalize.Cell {
	row := make([]normalize.Cell, len(values))
	for i, v := range values {
		row[i] = normalize.Text(v)
	}
	return row
}

func statement() [][]normalize.Cell {
	return [][]normalize.Cell{
		textRow("Estado de cuenta", "", "", ""),
		textRow("Cuenta", "*4321", "", ""),
		textRow("Fecha", "Concepto", "Retiro", "Depósito"),
		textRow("12/06/2025", "SPEI RECIBIDO AIRBNB *9876", "", "5,249.50"),
		textRow("13/06/2025", "COMISION", "15.00", ""),
		textRow("", "SALDO", "", ""),
	}
}

func TestBankImportDetectsHeaderAndKeepsCredits(t *testing.T) {
	store := memory.NewStore()
	svc, err := NewBankImportService(store, nil)
	if err != nil {
		t.Fatalf("new bank import: %v", err)
	}
	res, err := svc.Import(context.Background(), BankImportRequest{Filename: "santander.csv", Records: statement()})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.HeaderRow != 3 || res.Credits != 1 || res.Created != 1 || res.Debits != 1 || res.NoDate != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	entries := store.BankEntries()
	if len(entries) != 1 {
		t.Fatalf("expected one bank entry, got %d", len(entries))
	}
	e := entries[0]
	if e.AccountLast4 != "9876" || e.Deposit.StringFixed(2) != "5249.50" || e.Date.Day() != 12 {
		t.Fatalf("unexpected entry %+v", e)
	}

	again, err := svc.Import(context.Background(), BankImportRequest{Filename: "santander.csv", Records: statement()})
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if again.Created != 0 || again.Updated != 1 || len(store.BankEntries()) != 1 {
		t.Fatalf("expected idempotent reimport, got %+v", again)
	}
}

func TestBankImportGivenAccountWins(t *testing.T) {
	store := memory.NewStore()
	svc, _ := NewBankImportService(store, nil)
	if _, err := svc.Import(context.Background(), BankImportRequest{Filename: "s.csv", Records: statement(), AccountLast4: "1111"}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := store.BankEntries()[0].AccountLast4; got != "1111" {
		t.Fatalf("account = %q", got)
	}
}

func TestBankImportWithoutHeader(t *testing.T) {
	svc, _ := NewBankImportService(memory.NewStore(), nil)
	_, err := svc.Import(context.Background(), BankImportRequest{Filename: "s.csv", Records: [][]normalize.Cell{textRow("a", "b")}})
	if !errors.Is(err, payouts.ErrMissingColumns) {
		t.Fatalf("expected missing columns, got %v", err)
	}
}
