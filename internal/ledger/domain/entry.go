package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fields are the comparable values of a ledger row.
type Fields struct {
	Date            time.Time
	MovementType    *string
	PaymentType     *string
	Concept         *string
	Deposit         decimal.NullDecimal
	Commission      decimal.NullDecimal
	AvailableAmount decimal.NullDecimal
}

// NetAmount returns deposit minus commission. A missing commission counts as zero,
// a missing deposit yields a null result.
func (f Fields) NetAmount() decimal.NullDecimal {
	if !f.Deposit.Valid {
		return decimal.NullDecimal{}
	}
	fee := decimal.Zero
	if f.Commission.Valid {
		fee = f.Commission.Decimal
	}
	return decimal.NullDecimal{Decimal: f.Deposit.Decimal.Sub(fee).Round(2), Valid: true}
}

// IsInflow reports whether the row carries a positive deposit.
func (f Fields) IsInflow() bool {
	return f.Deposit.Valid && f.Deposit.Decimal.IsPositive()
}

// Reconciliation holds the checked state of an entry.
type Reconciliation struct {
	CheckedAt      *time.Time
	CheckedBy      string
	LinkedPayoutID string
}

// IsChecked reports whether the entry was confirmed against a payout.
func (r Reconciliation) IsChecked() bool {
	return r.CheckedAt != nil
}

// Entry is one immutable version of a ledger row.
type Entry struct {
	ID          string
	ImportID    string
	ContentHash string
	GroupKey    string
	Fields
	DateRaw   string
	NetAmount decimal.NullDecimal

	Active           bool
	SupersededAt     *time.Time
	SupersededByHash string
	ChangeSummary    string
	PredecessorID    string
	SuccessorID      string

	SourceFile  string
	SourceSheet string
	SourceRow   int
	CreatedAt   time.Time

	Reconciliation Reconciliation
}

// Import records one non dry-run ingestion.
type Import struct {
	ID         string
	Filename   string
	UploadedAt time.Time
	Actor      string
}

// FieldChange describes one differing comparable field.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// Diff compares the comparable fields of an active entry with a new row.
// Date is part of the group key and is never reported.
func Diff(previous, next Fields) []FieldChange {
	pairs := []struct {
		field    string
		old, new string
	}{
		{"deposito", formatAmount(previous.Deposit), formatAmount(next.Deposit)},
		{"comision", formatAmount(previous.Commission), formatAmount(next.Commission)},
		{"montoDisponible", formatAmount(previous.AvailableAmount), formatAmount(next.AvailableAmount)},
		{"concepto", deref(previous.Concept), deref(next.Concept)},
		{"tipoMovimiento", deref(previous.MovementType), deref(next.MovementType)},
		{"tipoPago", deref(previous.PaymentType), deref(next.PaymentType)},
	}
	var changes []FieldChange
	for _, p := range pairs {
		if p.old != p.new {
			changes = append(changes, FieldChange{Field: p.field, Old: p.old, New: p.new})
		}
	}
	return changes
}

// Summarize renders changes as a single audit line.
func Summarize(changes []FieldChange) string {
	if len(changes) == 0 {
		return ""
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, fmt.Sprintf("%s: %q → %q", c.Field, c.Old, c.New))
	}
	return "Updated: " + strings.Join(parts, "; ")
}

func formatAmount(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(2)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
