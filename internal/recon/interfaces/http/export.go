package http

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	reconapp "ledger-recon/internal/recon/application"
)

var bankExportHeaders = []string{
	"Reference", "Sent", "Arriving by", "Amount", "Currency", "Method", "Status",
	"Entry", "Entry date", "Concept", "Deposit", "Diff", "Checked by",
}

// BuildBankListingXLSX renders the bank listing as a workbook with a
// parameters sheet and a rows sheet.
func BuildBankListingXLSX(listing reconapp.BankListing) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	paramsSheet := "params"
	rowsSheet := "payouts"
	if err := f.SetSheetName("Sheet1", paramsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(rowsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(paramsSheet, "A1", "Bank reconciliation")
	params := [][2]any{
		{"From", deref(listing.Meta.From)},
		{"To", deref(listing.Meta.To)},
		{"Pre days", listing.Meta.Pre},
		{"Post days", listing.Meta.Post},
		{"Sent offset", listing.Meta.SentOffset},
		{"Tolerance", listing.Meta.Tolerance},
		{"Rows", listing.Count},
	}
	for i, p := range params {
		_ = f.SetCellValue(paramsSheet, fmt.Sprintf("A%d", i+3), p[0])
		_ = f.SetCellValue(paramsSheet, fmt.Sprintf("B%d", i+3), p[1])
	}

	for i, h := range bankExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(rowsSheet, cell, h)
	}
	for i, row := range listing.Rows {
		values := bankExportRow(row)
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(rowsSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBankListingPDF renders the bank listing as a landscape table.
func BuildBankListingPDF(listing reconapp.BankListing) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Bank reconciliation")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 5, fmt.Sprintf("Sent between %s and %s, window -%d/+%d days, tolerance %s",
		orDash(deref(listing.Meta.From)), orDash(deref(listing.Meta.To)), listing.Meta.Pre, listing.Meta.Post, listing.Meta.Tolerance))
	pdf.Ln(5)
	pdf.Cell(0, 5, fmt.Sprintf("Payouts: %d", listing.Count))
	pdf.Ln(8)

	widths := []float64{34, 20, 20, 22, 14, 20, 20, 0, 20, 50, 22, 16, 0}
	pdf.SetFont("Arial", "B", 8)
	for i, h := range bankExportHeaders {
		if widths[i] == 0 {
			continue
		}
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, row := range listing.Rows {
		for i, v := range bankExportRow(row) {
			if widths[i] == 0 {
				continue
			}
			align := "L"
			if i == 3 || i == 10 || i == 11 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, tr(truncate(fmt.Sprint(v), 40)), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func bankExportRow(row reconapp.BankRow) []any {
	out := []any{
		row.ReferenceCode, deref(row.SentDate), deref(row.ArrivingBy), row.Amount, row.Currency,
		row.MethodNormalized, row.Status, "", "", "", "", "", row.ReconCheckedBy,
	}
	if row.Match != nil {
		out[7] = row.Match.EntryID
		out[8] = row.Match.Date
		out[9] = row.Match.Concept
		out[10] = row.Match.Deposit
		out[11] = row.Match.Diff
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
