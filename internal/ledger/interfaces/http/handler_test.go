package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"ledger-recon/internal/audit"
	"ledger-recon/internal/auth"
	ledgerapp "ledger-recon/internal/ledger/application"
	"ledger-recon/internal/ledger/infrastructure/memory"
)

const ledgerCSV = "Fecha,Tipo de movimiento,Concepto,Deposito,Comision\n" +
	"04/02/2025,Abono,Renta,\"1,000.00\",50.00\n" +
	"05/02/2025,Abono,Renta 2,200.00,\n"

func upload(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = io.WriteString(part, content)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAccountant, "ana"))
}

func newImportHandler(t *testing.T) (*ImportHandler, *memory.EntryStore, *audit.MemoryLog) {
	t.Helper()
	store := memory.NewEntryStore()
	svc, err := ledgerapp.NewIngestService(store, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	auditLog := &audit.MemoryLog{}
	h, err := NewImportHandler(svc, auditLog)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h, store, auditLog
}

func TestImportLedgerThenDryRunRepeat(t *testing.T) {
	h, store, auditLog := newImportHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, upload(t, "/api/v1/imports/ledger", "estado.csv", ledgerCSV))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var summary ledgerapp.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Inserted != 2 || summary.RowsRead != 2 || summary.Filename != "estado.csv" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, upload(t, "/api/v1/imports/ledger?dryRun=1&debug=1", "estado.csv", ledgerCSV))
	if rec.Code != http.StatusOK {
		t.Fatalf("dry run status = %d", rec.Code)
	}
	summary = ledgerapp.Summary{}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !summary.DryRun || summary.Duplicates != 2 || summary.Inserted != 0 || summary.Debug == nil {
		t.Fatalf("unexpected dry run summary %+v", summary)
	}
	if n := len(store.Entries()); n != 2 {
		t.Fatalf("expected 2 stored entries, got %d", n)
	}

	entries := auditLog.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionLedgerImport || entries[0].Actor != "ana" {
		t.Fatalf("expected one import audit entry, got %+v", entries)
	}
}

func TestImportLedgerRejects(t *testing.T) {
	h, _, _ := newImportHandler(t)
	cases := []struct {
		name string
		req  *http.Request
	}{
		{"unsupported file", upload(t, "/api/v1/imports/ledger", "notes.pdf", "x")},
		{"empty file", upload(t, "/api/v1/imports/ledger", "empty.csv", "\n")},
		{"no date column", upload(t, "/api/v1/imports/ledger", "x.csv", "Concepto,Deposito\nRenta,10\n")},
		{"no file field", httptest.NewRequest(http.MethodPost, "/api/v1/imports/ledger", nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports/ledger", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListEntriesWithRunningBalance(t *testing.T) {
	h, store, _ := newImportHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, upload(t, "/api/v1/imports/ledger", "estado.csv", ledgerCSV))
	if rec.Code != http.StatusOK {
		t.Fatalf("seed import: %d", rec.Code)
	}

	list, err := NewEntriesHandler(store)
	if err != nil {
		t.Fatalf("new entries handler: %v", err)
	}
	rec = httptest.NewRecorder()
	list.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/entries?from=2025-02-01&to=2025-02-28", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page pageDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 2 || len(page.Rows) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	first, second := page.Rows[0], page.Rows[1]
	if first.Date != "2025-02-04" || first.NetAmount == nil || *first.NetAmount != "950.00" || first.Balance != "950.00" {
		t.Fatalf("unexpected first row %+v", first)
	}
	if second.Balance != "1150.00" || second.Commission != nil {
		t.Fatalf("unexpected second row %+v", second)
	}

	rec = httptest.NewRecorder()
	list.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/entries?page=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
