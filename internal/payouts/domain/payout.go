package payouts

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSentOffsetDays is subtracted from the arriving-by date when a payout
// has no payout date.
const DefaultSentOffsetDays = 9

// Payout is one batch of a payout report, the anchor of bank reconciliation.
type Payout struct {
	ID            string
	ReferenceCode string
	PayoutDate    *time.Time
	ArrivingBy    *time.Time
	Amount        decimal.Decimal
	Currency      string
	MethodRaw     string

	ReconCheckedAt *time.Time
	ReconCheckedBy string
	LinkedEntryID  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SentDate is the payout date, else arriving-by minus offsetDays. ok is false
// when the payout carries neither date.
func (p Payout) SentDate(offsetDays int) (time.Time, bool) {
	if p.PayoutDate != nil {
		return *p.PayoutDate, true
	}
	if p.ArrivingBy != nil {
		return p.ArrivingBy.AddDate(0, 0, -offsetDays), true
	}
	return time.Time{}, false
}

// IsChecked reports whether the payout was confirmed against a counterpart.
func (p Payout) IsChecked() bool {
	return p.ReconCheckedAt != nil
}

// Item line types of a payout report.
const (
	LineReservation = "reservation"
	LineHostTax     = "host remitted tax"
	LineAdjustment  = "adjustment"
)

// ItemLineType maps the report's Type column to a line type, or "" when the
// row is not an item.
func ItemLineType(raw string) string {
	switch t := strings.ToLower(strings.TrimSpace(raw)); t {
	case LineReservation, LineHostTax, LineAdjustment:
		return t
	default:
		return ""
	}
}

// IsBatchRow reports whether a report row opens a payout batch.
func IsBatchRow(rawType string) bool {
	return strings.Contains(strings.ToLower(rawType), "payout")
}

// PayoutItem is one line of a payout batch.
type PayoutItem struct {
	ID               string
	PayoutID         string
	LineType         string
	ConfirmationCode string
	Listing          string
	Guest            string
	StartDate        *time.Time
	EndDate          *time.Time
	Nights           int
	Amount           decimal.NullDecimal
	GrossEarnings    decimal.NullDecimal
	CleaningFee      decimal.NullDecimal
	ServiceFee       decimal.NullDecimal
	Currency         string
}

// ItemKey identifies an item within its payout for upserts.
func (i PayoutItem) ItemKey() string {
	if code := strings.ToLower(strings.TrimSpace(i.ConfirmationCode)); code != "" {
		return i.LineType + "|" + code
	}
	return i.LineType + "|" + strings.ToLower(strings.TrimSpace(i.Listing)) + "|" + dateKey(i.StartDate) + "|" + dateKey(i.EndDate)
}

func dateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// Booking is a reservation recorded by the property manager.
type Booking struct {
	ID                   string
	ConfirmationCode     string
	Source               string
	UnitName             string
	ClientPaid           bool
	CheckIn              time.Time
	CheckOut             time.Time
	Status               string
	ReportedPayoutAmount decimal.NullDecimal
	IsPaid               bool
}

// IsCancelled reports whether the booking status is a cancellation.
func (b Booking) IsCancelled() bool {
	s := strings.ToUpper(strings.TrimSpace(b.Status))
	return s == "CANCELLED" || s == "CANCELED"
}

// BankEntry is one credit of a bank statement, the second candidate pool.
type BankEntry struct {
	ID           string
	Fingerprint  string
	Date         time.Time
	Concept      string
	Deposit      decimal.Decimal
	AccountLast4 string
	Currency     string
	SourceFile   string

	CheckedAt      *time.Time
	CheckedBy      string
	LinkedPayoutID string
}
