package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledger-recon/internal/ledger/normalize"
	"ledger-recon/internal/observability/metrics"
	payouts "ledger-recon/internal/payouts/domain"
)

const (
	headerScanRows      = 10
	defaultAccountLast4 = "0000"
)

var accountPattern = regexp.MustCompile(`\*([0-9]{4})`)

// BankImportRequest is one uploaded bank statement. Records include the
// preamble rows banks put above the header.
type BankImportRequest struct {
	Filename     string
	Records      [][]normalize.Cell
	AccountLast4 string
	Actor        string
}

// BankImportResult counts the effect of one statement import.
type BankImportResult struct {
	Filename  string `json:"filename"`
	HeaderRow int    `json:"headerRow"`
	Rows      int    `json:"rows"`
	Credits   int    `json:"credits"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	NoDate    int    `json:"noDate"`
	Debits    int    `json:"debits"`
}

// BankImportService loads bank statement credits into the bank pool.
type BankImportService struct {
	store  payouts.BankEntryWriter
	logger *log.Logger
	newID  func() string
}

// NewBankImportService constructs the bank statement importer.
func NewBankImportService(store payouts.BankEntryWriter, logger *log.Logger) (*BankImportService, error) {
	if store == nil {
		return nil, errors.New("bank import: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &BankImportService{store: store, logger: logger, newID: uuid.NewString}, nil
}

// Import upserts every credit of a statement by fingerprint, so importing an
// overlapping statement again does not duplicate entries.
func (s *BankImportService) Import(ctx context.Context, req BankImportRequest) (BankImportResult, error) {
	result, err := s.importStatement(ctx, req)
	if err != nil {
		metrics.IncStatementImport("bank", metrics.ResultError)
		s.logger.Printf("bank import: file=%s failed: %v", req.Filename, err)
		return result, err
	}
	metrics.IncStatementImport("bank", metrics.ResultSuccess)
	s.logger.Printf("bank import: file=%s credits=%d created=%d updated=%d debits=%d no_date=%d",
		req.Filename, result.Credits, result.Created, result.Updated, result.Debits, result.NoDate)
	return result, nil
}

func (s *BankImportService) importStatement(ctx context.Context, req BankImportRequest) (BankImportResult, error) {
	result := BankImportResult{Filename: req.Filename, HeaderRow: -1}
	layout, ok := detectBankHeader(req.Records)
	if !ok {
		return result, fmt.Errorf("%w: need fecha, concepto and deposito", payouts.ErrMissingColumns)
	}
	result.HeaderRow = layout.row + 1

	for i := layout.row + 1; i < len(req.Records); i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		row := req.Records[i]
		result.Rows++
		date, ok := normalize.ParseDate(at(row, layout.date))
		if !ok {
			result.NoDate++
			continue
		}
		deposit := normalize.ParseAmount(at(row, layout.deposit))
		if !deposit.Valid || !deposit.Decimal.IsPositive() {
			result.Debits++
			continue
		}
		concept := strings.TrimSpace(at(row, layout.concept).String())
		last4 := accountLast4(req.AccountLast4, concept)
		currency := "MXN"
		if layout.currency >= 0 {
			if c := strings.ToUpper(strings.TrimSpace(at(row, layout.currency).String())); c != "" {
				currency = c
			}
		}

		entry := &payouts.BankEntry{
			ID:           s.newID(),
			Fingerprint:  bankFingerprint(date, concept, deposit.Decimal.StringFixed(2), last4),
			Date:         date,
			Concept:      concept,
			Deposit:      deposit.Decimal,
			AccountLast4: last4,
			Currency:     currency,
			SourceFile:   req.Filename,
		}
		created, err := s.store.UpsertBankEntry(ctx, entry)
		if err != nil {
			return result, fmt.Errorf("bank import: row %d: %w", i+1, err)
		}
		result.Credits++
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

type bankLayout struct {
	row, date, concept, deposit, currency int
}

// detectBankHeader finds the header row among the first rows of a statement.
func detectBankHeader(records [][]normalize.Cell) (bankLayout, bool) {
	for r := 0; r < len(records) && r < headerScanRows; r++ {
		l := bankLayout{row: r, date: -1, concept: -1, deposit: -1, currency: -1}
		for i, c := range records[r] {
			h := normalize.NormalizeHeader(c.String())
			switch {
			case l.date < 0 && strings.Contains(h, "fecha"):
				l.date = i
			case l.concept < 0 && (strings.Contains(h, "concepto") || strings.Contains(h, "descripcion")):
				l.concept = i
			case l.deposit < 0 && (strings.Contains(h, "deposito") || strings.Contains(h, "abono")):
				l.deposit = i
			case l.currency < 0 && strings.Contains(h, "moneda"):
				l.currency = i
			}
		}
		if l.date >= 0 && l.concept >= 0 && l.deposit >= 0 {
			return l, true
		}
	}
	return bankLayout{}, false
}

func accountLast4(given, concept string) string {
	if g := strings.TrimSpace(given); len(g) == 4 {
		return g
	}
	if m := accountPattern.FindStringSubmatch(concept); m != nil {
		return m[1]
	}
	return defaultAccountLast4
}

func bankFingerprint(date time.Time, concept, deposit, last4 string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		date.Format("2006-01-02"), strings.ToLower(concept), deposit, last4,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func at(row []normalize.Cell, i int) normalize.Cell {
	if i < 0 || i >= len(row) {
		return normalize.Text("")
	}
	return row[i]
}
