package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-recon/internal/ledger/normalize"
	"ledger-recon/internal/observability/metrics"
	payouts "ledger-recon/internal/payouts/domain"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ImportRequest is one uploaded payout report.
type ImportRequest struct {
	Filename string
	Headers  []string
	Rows     [][]normalize.Cell
	Actor    string
}

// ImportResult counts the effect of one payout report import.
type ImportResult struct {
	Filename     string `json:"filename"`
	Batches      int    `json:"batches"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Items        int    `json:"items"`
	ItemsCreated int    `json:"itemsCreated"`
	ItemsUpdated int    `json:"itemsUpdated"`
	// Orphans are item rows that appear before any batch row.
	Orphans int `json:"orphans"`
	Skipped int `json:"skipped"`
}

// ImportService loads payout reports.
type ImportService struct {
	store  payouts.PayoutWriter
	clock  Clock
	logger *log.Logger
	newID  func() string
}

// NewImportService constructs the payout report importer.
func NewImportService(store payouts.PayoutWriter, clock Clock, logger *log.Logger) (*ImportService, error) {
	if store == nil {
		return nil, errors.New("payouts import: nil store")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ImportService{store: store, clock: clock, logger: logger, newID: uuid.NewString}, nil
}

// Import upserts the batches and items of a report. Rows whose type contains
// "payout" open a batch; reservation, tax and adjustment rows attach to the
// most recent batch. Re-importing the same report updates in place.
func (s *ImportService) Import(ctx context.Context, req ImportRequest) (ImportResult, error) {
	result, err := s.importReport(ctx, req)
	if err != nil {
		metrics.IncStatementImport("payouts", metrics.ResultError)
		s.logger.Printf("payouts import: file=%s failed: %v", req.Filename, err)
		return result, err
	}
	metrics.IncStatementImport("payouts", metrics.ResultSuccess)
	s.logger.Printf("payouts import: file=%s batches=%d created=%d updated=%d items=%d orphans=%d",
		req.Filename, result.Batches, result.Created, result.Updated, result.Items, result.Orphans)
	return result, nil
}

func (s *ImportService) importReport(ctx context.Context, req ImportRequest) (ImportResult, error) {
	result := ImportResult{Filename: req.Filename}
	cols := indexColumns(req.Headers)
	if !cols.has("type") || !cols.has("date") {
		return result, fmt.Errorf("%w: need type and date", payouts.ErrMissingColumns)
	}

	now := s.clock.Now().UTC()
	var current *payouts.Payout
	for i, row := range req.Rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rowNumber := i + 2
		rawType := cols.cell(row, "type").String()

		if payouts.IsBatchRow(rawType) {
			p := s.payoutFromRow(cols, row, now)
			id, created, err := s.store.UpsertPayout(ctx, p)
			if err != nil {
				return result, fmt.Errorf("payouts import: row %d: %w", rowNumber, err)
			}
			p.ID = id
			current = p
			result.Batches++
			if created {
				result.Created++
			} else {
				result.Updated++
			}
			continue
		}

		lineType := payouts.ItemLineType(rawType)
		if lineType == "" {
			result.Skipped++
			continue
		}
		if current == nil {
			result.Orphans++
			continue
		}
		item := s.itemFromRow(cols, row, current, lineType)
		created, err := s.store.UpsertItem(ctx, item)
		if err != nil {
			return result, fmt.Errorf("payouts import: row %d: %w", rowNumber, err)
		}
		result.Items++
		if created {
			result.ItemsCreated++
		} else {
			result.ItemsUpdated++
		}
	}
	return result, nil
}

func (s *ImportService) payoutFromRow(cols columns, row []normalize.Cell, now time.Time) *payouts.Payout {
	dateCell := cols.cell(row, "date")
	details := strings.TrimSpace(cols.cell(row, "details").String())
	paidOut := cols.cell(row, "paidout", "amount")

	amount := decimal.Zero
	if v := normalize.ParseAmount(paidOut); v.Valid {
		amount = v.Decimal
	}
	ref := strings.TrimSpace(cols.cell(row, "referencecode", "reference", "referenceid").String())
	if ref == "" {
		ref = cohostReference(dateCell.String(), details, paidOut.String())
	}
	return &payouts.Payout{
		ID:            s.newID(),
		ReferenceCode: ref,
		PayoutDate:    reportDate(dateCell),
		ArrivingBy:    reportDate(cols.cell(row, "arrivingbydate", "arrivingby")),
		Amount:        amount,
		Currency:      strings.ToUpper(strings.TrimSpace(cols.cell(row, "currency").String())),
		MethodRaw:     details,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *ImportService) itemFromRow(cols columns, row []normalize.Cell, p *payouts.Payout, lineType string) *payouts.PayoutItem {
	nights := 0
	if v := normalize.ParseAmount(cols.cell(row, "nights")); v.Valid {
		nights = int(v.Decimal.IntPart())
	}
	currency := strings.ToUpper(strings.TrimSpace(cols.cell(row, "currency").String()))
	if currency == "" {
		currency = p.Currency
	}
	return &payouts.PayoutItem{
		ID:               s.newID(),
		PayoutID:         p.ID,
		LineType:         lineType,
		ConfirmationCode: strings.TrimSpace(cols.cell(row, "confirmationcode").String()),
		Listing:          strings.TrimSpace(cols.cell(row, "listing").String()),
		Guest:            strings.TrimSpace(cols.cell(row, "guest").String()),
		StartDate:        reportDate(cols.cell(row, "startdate")),
		EndDate:          reportDate(cols.cell(row, "enddate")),
		Nights:           nights,
		Amount:           normalize.ParseAmount(cols.cell(row, "amount")),
		GrossEarnings:    normalize.ParseAmount(cols.cell(row, "grossearnings")),
		CleaningFee:      normalize.ParseAmount(cols.cell(row, "cleaningfee")),
		ServiceFee:       normalize.ParseAmount(cols.cell(row, "servicefee")),
		Currency:         currency,
	}
}

// cohostReference derives a stable reference for batches the report leaves
// without one.
func cohostReference(date, details, paidOut string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(date) + "|" + details + "|" + strings.TrimSpace(paidOut)))
	return "COHOST-" + hex.EncodeToString(sum[:])[:16]
}

// reportDate reads payout report dates, which are month-first.
func reportDate(c normalize.Cell) *time.Time {
	if c.IsEmpty() {
		return nil
	}
	t, ok := normalize.ParseDateOrder(c, normalize.MonthFirst)
	if !ok {
		return nil
	}
	return &t
}

// columns maps normalized header names to their index.
type columns map[string]int

func indexColumns(headers []string) columns {
	cols := make(columns, len(headers))
	for i, h := range headers {
		key := normalize.NormalizeHeader(h)
		if _, seen := cols[key]; key != "" && !seen {
			cols[key] = i
		}
	}
	return cols
}

func (c columns) has(name string) bool {
	_, ok := c[name]
	return ok
}

// cell returns the first non-empty value among the named columns.
func (c columns) cell(row []normalize.Cell, names ...string) normalize.Cell {
	for _, name := range names {
		if i, ok := c[name]; ok && i < len(row) && !row[i].IsEmpty() {
			return row[i]
		}
	}
	return normalize.Text("")
}
