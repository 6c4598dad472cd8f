package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	payouts "ledger-recon/internal/payouts/domain"
)

const payoutColumns = `id, reference_code, payout_date, arriving_by, amount, currency, method_raw,
	recon_checked_at, recon_checked_by, linked_entry_id, created_at, updated_at`

// Store persists payouts, payout items and bank entries in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("payouts store: nil db")
	}
	return &Store{db: db}, nil
}

// UpsertPayout inserts or updates by lower(reference_code). xmax is zero
// only for freshly inserted tuples.
func (s *Store) UpsertPayout(ctx context.Context, p *payouts.Payout) (string, bool, error) {
	if p == nil {
		return "", false, payouts.ErrNilPayout
	}
	var (
		id      string
		created bool
	)
	err := s.db.QueryRowContext(ctx, `
INSERT INTO payouts (id, reference_code, payout_date, arriving_by, amount, currency, method_raw, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT ((lower(reference_code))) DO UPDATE SET
	payout_date = EXCLUDED.payout_date,
	arriving_by = EXCLUDED.arriving_by,
	amount = EXCLUDED.amount,
	currency = EXCLUDED.currency,
	method_raw = EXCLUDED.method_raw,
	updated_at = EXCLUDED.updated_at
RETURNING id, (xmax = 0)`,
		p.ID, p.ReferenceCode, p.PayoutDate, p.ArrivingBy, p.Amount, nullString(p.Currency), nullString(p.MethodRaw), p.UpdatedAt,
	).Scan(&id, &created)
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

// UpsertItem inserts or updates by (payout_id, item_key).
func (s *Store) UpsertItem(ctx context.Context, item *payouts.PayoutItem) (bool, error) {
	if item == nil {
		return false, payouts.ErrNilPayout
	}
	var created bool
	err := s.db.QueryRowContext(ctx, `
INSERT INTO payout_items (
	id, payout_id, item_key, line_type, confirmation_code, listing, guest, start_date, end_date, nights,
	amount, gross_earnings, cleaning_fee, service_fee, currency
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (payout_id, item_key) DO UPDATE SET
	guest = EXCLUDED.guest,
	nights = EXCLUDED.nights,
	amount = EXCLUDED.amount,
	gross_earnings = EXCLUDED.gross_earnings,
	cleaning_fee = EXCLUDED.cleaning_fee,
	service_fee = EXCLUDED.service_fee,
	currency = EXCLUDED.currency
RETURNING (xmax = 0)`,
		item.ID, item.PayoutID, item.ItemKey(), item.LineType, nullString(item.ConfirmationCode), nullString(item.Listing),
		nullString(item.Guest), item.StartDate, item.EndDate, item.Nights,
		item.Amount, item.GrossEarnings, item.CleaningFee, item.ServiceFee, nullString(item.Currency),
	).Scan(&created)
	return created, err
}

// UpsertBankEntry inserts a bank credit unless its fingerprint is known.
func (s *Store) UpsertBankEntry(ctx context.Context, e *payouts.BankEntry) (bool, error) {
	if e == nil {
		return false, payouts.ErrBankEntryNotFound
	}
	var created bool
	err := s.db.QueryRowContext(ctx, `
INSERT INTO bank_entries (id, fingerprint, entry_date, concept, deposit, account_last4, currency, source_file)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (fingerprint) DO UPDATE SET
	concept = EXCLUDED.concept,
	currency = EXCLUDED.currency,
	source_file = EXCLUDED.source_file
RETURNING (xmax = 0)`,
		e.ID, e.Fingerprint, e.Date, e.Concept, e.Deposit, e.AccountLast4, e.Currency, nullString(e.SourceFile),
	).Scan(&created)
	return created, err
}

// GetPayout loads a payout by id.
func (s *Store) GetPayout(ctx context.Context, id string) (*payouts.Payout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	p, err := ScanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payouts.ErrPayoutNotFound
	}
	return p, err
}

// ListPayouts filters payouts by sent date, newest first.
func (s *Store) ListPayouts(ctx context.Context, q payouts.PayoutQuery) ([]payouts.Payout, error) {
	args := []any{q.SentOffsetDays}
	clauses := []string{"TRUE"}
	sent := "COALESCE(payout_date, arriving_by - $1::int)"
	if q.SentFrom != nil {
		args = append(args, *q.SentFrom)
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", sent, len(args)))
	}
	if q.SentTo != nil {
		args = append(args, *q.SentTo)
		clauses = append(clauses, fmt.Sprintf("%s <= $%d", sent, len(args)))
	}
	if !q.IncludeChecked {
		clauses = append(clauses, "recon_checked_at IS NULL")
	}
	if q.UnlinkedOnly {
		clauses = append(clauses, "recon_checked_at IS NULL", "linked_entry_id IS NULL")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM payouts
WHERE %s
ORDER BY %s DESC NULLS LAST, reference_code DESC`, payoutColumns, strings.Join(clauses, " AND "), sent)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []payouts.Payout
	for rows.Next() {
		p, err := ScanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetBankEntry loads a bank entry by id.
func (s *Store) GetBankEntry(ctx context.Context, id string) (*payouts.BankEntry, error) {
	var (
		e                 payouts.BankEntry
		currency, source  sql.NullString
		checkedBy, linked sql.NullString
		checkedAt         sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, fingerprint, entry_date, concept, deposit, account_last4, currency, source_file,
	checked_at, checked_by, linked_payout_id
FROM bank_entries WHERE id = $1`, id).Scan(
		&e.ID, &e.Fingerprint, &e.Date, &e.Concept, &e.Deposit, &e.AccountLast4, &currency, &source,
		&checkedAt, &checkedBy, &linked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payouts.ErrBankEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Date = e.Date.UTC()
	e.Currency = currency.String
	e.SourceFile = source.String
	e.CheckedAt = timePtr(checkedAt)
	e.CheckedBy = checkedBy.String
	e.LinkedPayoutID = linked.String
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// ScanPayout scans a row selected with the payouts column list.
func ScanPayout(row scanner) (*payouts.Payout, error) {
	var (
		p                      payouts.Payout
		payoutDate, arrivingBy sql.NullTime
		currency, method       sql.NullString
		checkedAt              sql.NullTime
		checkedBy, linkedEntry sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.ReferenceCode, &payoutDate, &arrivingBy, &p.Amount, &currency, &method,
		&checkedAt, &checkedBy, &linkedEntry, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.PayoutDate = timePtr(payoutDate)
	p.ArrivingBy = timePtr(arrivingBy)
	p.Currency = currency.String
	p.MethodRaw = method.String
	p.ReconCheckedAt = timePtr(checkedAt)
	p.ReconCheckedBy = checkedBy.String
	p.LinkedEntryID = linkedEntry.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
