package tabular

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestReadCSVWindows1252(t *testing.T) {
	data := []byte("Fecha,Dep\xf3sito,Concepto\r\n04/02/2025,\"1,000.00\",Renta\r\n\r\n")
	table, err := Read("estado.csv", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	headers, rows := table.Split(0)
	if len(headers) != 3 || headers[1] != "Depósito" {
		t.Fatalf("unexpected headers %q", headers)
	}
	if len(rows) != 1 || rows[0][1].Text != "1,000.00" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestReadCSVSemicolonAndBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Fecha;Depósito\n05/02/2025;512,65\n")...)
	table, err := Read("estado.CSV", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	headers, rows := table.Split(0)
	if headers[0] != "Fecha" || rows[0][1].Text != "512,65" {
		t.Fatalf("unexpected parse %q %+v", headers, rows)
	}
}

func TestReadSpreadsheetKeepsRawValues(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for cell, v := range map[string]any{
		"A1": "Fecha", "B1": "Tipo de movimiento", "C1": "Deposito",
		"A2": 45692, "B2": "Abono", "C2": 1000.5,
	} {
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			t.Fatalf("set %s: %v", cell, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := Read("ledger.xlsx", buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if table.Sheet != sheet {
		t.Fatalf("sheet = %q, want %q", table.Sheet, sheet)
	}
	headers, rows := table.Split(0)
	if strings.Join(headers, "|") != "Fecha|Tipo de movimiento|Deposito" {
		t.Fatalf("unexpected headers %q", headers)
	}
	if !rows[0][0].Numeric || rows[0][0].Number != 45692 {
		t.Fatalf("expected serial date cell, got %+v", rows[0][0])
	}
	if rows[0][1].Numeric || rows[0][1].Text != "Abono" {
		t.Fatalf("expected text cell, got %+v", rows[0][1])
	}
	if rows[0][2].Number != 1000.5 {
		t.Fatalf("expected amount cell, got %+v", rows[0][2])
	}
}

func TestReadRejects(t *testing.T) {
	if _, err := Read("notes.pdf", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if _, err := Read("empty.csv", strings.NewReader("\n\n")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected empty file, got %v", err)
	}
}
