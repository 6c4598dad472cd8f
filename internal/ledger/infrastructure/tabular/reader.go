package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"ledger-recon/internal/ledger/normalize"
)

var (
	// ErrUnsupportedFormat is returned for extensions other than csv/xlsx/xlsm.
	ErrUnsupportedFormat = errors.New("tabular: unsupported file type")
	// ErrEmptyFile is returned when the file has no rows.
	ErrEmptyFile = errors.New("tabular: file has no rows")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is the first sheet of a file. Records keeps every row, header
// included, with trailing empty rows removed.
type Table struct {
	Sheet   string
	Records [][]normalize.Cell
}

// Split returns the row at headerRow as header names and the rows after it.
func (t *Table) Split(headerRow int) ([]string, [][]normalize.Cell) {
	if t == nil || headerRow < 0 || headerRow >= len(t.Records) {
		return nil, nil
	}
	headerCells := t.Records[headerRow]
	headers := make([]string, len(headerCells))
	for i, c := range headerCells {
		headers[i] = strings.TrimSpace(c.String())
	}
	return headers, t.Records[headerRow+1:]
}

// Read parses a csv or spreadsheet file chosen by the extension of name.
func Read(name string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return readCSV(r)
	case ".xlsx", ".xlsm":
		return readSpreadsheet(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

func readSpreadsheet(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("tabular: open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyFile
	}
	// raw values keep dates as serial numbers and amounts unformatted
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("tabular: read sheet %q: %w", sheet, err)
	}
	records := make([][]normalize.Cell, len(rows))
	for i, row := range rows {
		cells := make([]normalize.Cell, len(row))
		for j, v := range row {
			cells[j] = spreadsheetCell(v)
		}
		records[i] = cells
	}
	return finish(sheet, records)
}

func spreadsheetCell(v string) normalize.Cell {
	s := strings.TrimSpace(v)
	if s == "" {
		return normalize.Text("")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXpPnN") {
		return normalize.Number(f)
	}
	return normalize.Text(v)
}

func readCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tabular: read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = transform.NewReader(src, charmap.Windows1252.NewDecoder())
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.Comma = sniffDelimiter(data)

	var records [][]normalize.Cell
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular: parse csv: %w", err)
		}
		cells := make([]normalize.Cell, len(rec))
		for i, v := range rec {
			cells[i] = normalize.Text(v)
		}
		records = append(records, cells)
	}
	return finish("", records)
}

// sniffDelimiter picks ';' when the first line has more semicolons than commas.
func sniffDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

func finish(sheet string, records [][]normalize.Cell) (*Table, error) {
	end := len(records)
	for end > 0 && emptyRow(records[end-1]) {
		end--
	}
	if end == 0 {
		return nil, ErrEmptyFile
	}
	return &Table{Sheet: sheet, Records: records[:end]}, nil
}

func emptyRow(row []normalize.Cell) bool {
	for _, c := range row {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}
