package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	ledger "ledger-recon/internal/ledger/domain"
	ledgerpg "ledger-recon/internal/ledger/infrastructure/postgres"
	payouts "ledger-recon/internal/payouts/domain"
	payoutspg "ledger-recon/internal/payouts/infrastructure/postgres"
	recon "ledger-recon/internal/recon/domain"
)

// Store reads the candidate pools and writes reconciliation state in
// PostgreSQL.
type Store struct {
	db      *sql.DB
	entries *ledgerpg.EntryStore
	payouts *payoutspg.Store
}

// NewStore constructs a store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("recon store: nil db")
	}
	entries, err := ledgerpg.NewEntryStore(db)
	if err != nil {
		return nil, err
	}
	payoutStore, err := payoutspg.NewStore(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, entries: entries, payouts: payoutStore}, nil
}

func (s *Store) GetPayout(ctx context.Context, id string) (*payouts.Payout, error) {
	return s.payouts.GetPayout(ctx, id)
}

func (s *Store) ListPayouts(ctx context.Context, q payouts.PayoutQuery) ([]payouts.Payout, error) {
	return s.payouts.ListPayouts(ctx, q)
}

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*ledger.Entry, error) {
	return s.entries.Get(ctx, id)
}

func (s *Store) GetBankEntry(ctx context.Context, id string) (*payouts.BankEntry, error) {
	return s.payouts.GetBankEntry(ctx, id)
}

// PoolCandidates pre-filters a pool in SQL and returns the closest records.
func (s *Store) PoolCandidates(ctx context.Context, pool recon.Pool, q recon.PoolQuery) ([]recon.Record, error) {
	limit := q.Limit
	if limit < 1 {
		limit = 5
	}
	from, to := q.Window.From(q.Anchor.Date), q.Window.To(q.Anchor.Date)
	args := []any{from, to, q.Anchor.Amount, q.Window.Tolerance, q.Anchor.Date, limit}

	var query string
	switch pool {
	case recon.PoolLedger:
		query = `
SELECT id, entry_date, deposit, COALESCE(concept, ''), NULL::date
FROM ledger_entries
WHERE active AND deposit > 0
	AND entry_date BETWEEN $1 AND $2
	AND ABS(deposit - $3) <= $4` + unlinked(q.UnlinkedOnly, "linked_payout_id") + `
ORDER BY ABS(deposit - $3), ABS(entry_date - $5::date), id
LIMIT $6`
	case recon.PoolBank:
		query = `
SELECT id, entry_date, deposit, concept, NULL::date
FROM bank_entries
WHERE deposit > 0
	AND entry_date BETWEEN $1 AND $2
	AND ABS(deposit - $3) <= $4` + unlinked(q.UnlinkedOnly, "linked_payout_id") + `
ORDER BY ABS(deposit - $3), ABS(entry_date - $5::date), id
LIMIT $6`
	case recon.PoolPayout:
		args = append(args, q.SentOffsetDays)
		filter := ""
		if q.UnlinkedOnly {
			filter = "WHERE recon_checked_at IS NULL AND linked_entry_id IS NULL"
		}
		query = `
SELECT id, sent_date, amount, reference_code, arriving_by
FROM (
	SELECT id, COALESCE(payout_date, arriving_by - $7::int) AS sent_date, amount, reference_code, arriving_by
	FROM payouts
	` + filter + `
) p
WHERE sent_date BETWEEN $1 AND $2
	AND ABS(amount - $3) <= $4
ORDER BY ABS(amount - $3), ABS(sent_date - $5::date), id
LIMIT $6`
	default:
		return nil, recon.ErrUnsupportedMethod
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []recon.Record
	for rows.Next() {
		var (
			r          recon.Record
			arrivingBy sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Date, &r.Amount, &r.Label, &arrivingBy); err != nil {
			return nil, err
		}
		r.Date = r.Date.UTC()
		if arrivingBy.Valid {
			v := arrivingBy.Time.UTC()
			r.ArrivingBy = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func unlinked(only bool, column string) string {
	if !only {
		return ""
	}
	return "\n\tAND " + column + " IS NULL"
}

// UnlinkedInflows lists active unlinked inflows, newest first.
func (s *Store) UnlinkedInflows(ctx context.Context, q recon.InflowQuery) ([]recon.Record, error) {
	clauses := []string{"active", "deposit > 0", "linked_payout_id IS NULL"}
	var args []any
	if q.From != nil {
		args = append(args, *q.From)
		clauses = append(clauses, fmt.Sprintf("entry_date >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		clauses = append(clauses, fmt.Sprintf("entry_date <= $%d", len(args)))
	}
	limit := q.Limit
	if limit < 1 {
		limit = 500
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT id, entry_date, deposit, COALESCE(concept, '')
FROM ledger_entries
WHERE %s
ORDER BY entry_date DESC, id DESC
LIMIT $%d`, strings.Join(clauses, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []recon.Record
	for rows.Next() {
		var r recon.Record
		if err := rows.Scan(&r.ID, &r.Date, &r.Amount, &r.Label); err != nil {
			return nil, err
		}
		r.Date = r.Date.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// BookingsInScope lists unpaid, non-cancelled bookings of a source.
func (s *Store) BookingsInScope(ctx context.Context, scope recon.BookingScope) ([]payouts.Booking, error) {
	clauses := []string{
		"is_paid IS NOT TRUE",
		"client_paid IS NOT TRUE",
		"(status IS NULL OR UPPER(status) NOT IN ('CANCELLED','CANCELED'))",
	}
	var args []any
	if scope.Source != "" {
		args = append(args, scope.Source)
		clauses = append(clauses, fmt.Sprintf("LOWER(source) = LOWER($%d)", len(args)))
	}
	if scope.CheckInFrom != nil {
		args = append(args, *scope.CheckInFrom)
		clauses = append(clauses, fmt.Sprintf("check_in >= $%d", len(args)))
	}
	if scope.CheckInTo != nil {
		args = append(args, *scope.CheckInTo)
		clauses = append(clauses, fmt.Sprintf("check_in <= $%d", len(args)))
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, confirmation_code, source, COALESCE(unit_name, ''), COALESCE(client_paid, FALSE), check_in, check_out,
	COALESCE(status, ''), payout_amount, COALESCE(is_paid, FALSE)
FROM bookings
WHERE `+strings.Join(clauses, " AND ")+`
ORDER BY check_in, confirmation_code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []payouts.Booking
	for rows.Next() {
		var b payouts.Booking
		if err := rows.Scan(&b.ID, &b.ConfirmationCode, &b.Source, &b.UnitName, &b.ClientPaid, &b.CheckIn, &b.CheckOut,
			&b.Status, &b.ReportedPayoutAmount, &b.IsPaid); err != nil {
			return nil, err
		}
		b.CheckIn = b.CheckIn.UTC()
		b.CheckOut = b.CheckOut.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// ItemsInScope loads payout items of the given confirmation codes whose
// payout was sent within the scope.
func (s *Store) ItemsInScope(ctx context.Context, scope recon.ItemScope) ([]payouts.PayoutItem, error) {
	if len(scope.ConfirmationCodes) == 0 {
		return nil, nil
	}
	codes := make([]string, len(scope.ConfirmationCodes))
	for i, c := range scope.ConfirmationCodes {
		codes[i] = strings.ToLower(c)
	}
	args := []any{codes, scope.SentOffsetDays}
	clauses := []string{"LOWER(i.confirmation_code) = ANY($1)"}
	sent := "COALESCE(p.payout_date, p.arriving_by - $2::int)"
	if scope.SentFrom != nil {
		args = append(args, *scope.SentFrom)
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", sent, len(args)))
	}
	if scope.SentTo != nil {
		args = append(args, *scope.SentTo)
		clauses = append(clauses, fmt.Sprintf("%s <= $%d", sent, len(args)))
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT i.id, i.payout_id, i.line_type, COALESCE(i.confirmation_code, ''), i.start_date, i.end_date,
	i.amount, i.service_fee, COALESCE(i.currency, '')
FROM payout_items i
JOIN payouts p ON p.id = i.payout_id
WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []payouts.PayoutItem
	for rows.Next() {
		var (
			it         payouts.PayoutItem
			start, end sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.PayoutID, &it.LineType, &it.ConfirmationCode, &start, &end,
			&it.Amount, &it.ServiceFee, &it.Currency); err != nil {
			return nil, err
		}
		it.StartDate = timePtr(start)
		it.EndDate = timePtr(end)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ConfirmPair stamps both sides in one transaction. Each UPDATE is guarded
// on the side still being unlinked.
func (s *Store) ConfirmPair(ctx context.Context, c recon.Confirmation) error {
	var counterpart string
	switch c.Pool {
	case recon.PoolLedger:
		counterpart = `
UPDATE ledger_entries
SET checked_at = $2, checked_by = $3, linked_payout_id = $4
WHERE id = $1 AND linked_payout_id IS NULL AND active AND deposit > 0`
	case recon.PoolBank:
		counterpart = `
UPDATE bank_entries
SET checked_at = $2, checked_by = $3, linked_payout_id = $4
WHERE id = $1 AND linked_payout_id IS NULL AND deposit > 0`
	default:
		return recon.ErrUnsupportedMethod
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := execOne(ctx, tx, `
UPDATE payouts
SET recon_checked_at = $2, recon_checked_by = $3, linked_entry_id = $4
WHERE id = $1 AND recon_checked_at IS NULL AND linked_entry_id IS NULL`,
		c.PayoutID, c.At, nullString(c.Actor), c.EntryID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := execOne(ctx, tx, counterpart, c.EntryID, c.At, nullString(c.Actor), c.PayoutID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return recon.ErrAlreadyLinked
	}
	return nil
}

// SettleBookings flips is_paid for every id in one transaction and returns
// the ids that were still unpaid.
func (s *Store) SettleBookings(ctx context.Context, bookingIDs []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	var flipped []string
	for _, id := range bookingIDs {
		res, err := tx.ExecContext(ctx, `UPDATE bookings SET is_paid = TRUE WHERE id = $1 AND is_paid IS NOT TRUE`, id)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if n == 1 {
			flipped = append(flipped, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return flipped, nil
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

var _ recon.Store = (*Store)(nil)
