package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	ledger "ledger-recon/internal/ledger/domain"
)

const entryColumns = `id, import_id, content_hash, group_key, entry_date, date_raw,
	movement_type, payment_type, concept, deposit, commission, available_amount, net_amount,
	active, superseded_at, superseded_by_hash, change_summary, predecessor_id, successor_id,
	source_file, source_sheet, source_row, created_at, checked_at, checked_by, linked_payout_id`

// EntryStore persists ledger entries in PostgreSQL.
type EntryStore struct {
	db *sql.DB
}

// NewEntryStore constructs a store.
func NewEntryStore(db *sql.DB) (*EntryStore, error) {
	if db == nil {
		return nil, errors.New("ledger store: nil db")
	}
	return &EntryStore{db: db}, nil
}

// LoadAllContentHashes loads every known content hash.
func (s *EntryStore) LoadAllContentHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM ledger_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hashes, nil
}

// FindActiveByGroupKey returns the active entry of a group, or nil.
func (s *EntryStore) FindActiveByGroupKey(ctx context.Context, groupKey string) (*ledger.Entry, error) {
	return findActive(ctx, s.db, groupKey)
}

// Get loads an entry by id.
func (s *EntryStore) Get(ctx context.Context, id string) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	return e, err
}

// BeginIngest opens the transaction of one ingestion run and records the import.
func (s *EntryStore) BeginIngest(ctx context.Context, imp ledger.Import) (ledger.IngestTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO ledger_imports (id, filename, uploaded_at, actor)
VALUES ($1,$2,$3,$4)`, imp.ID, imp.Filename, imp.UploadedAt, nullString(imp.Actor))
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return &ingestTx{tx: tx}, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findActive(ctx context.Context, q queryer, groupKey string) (*ledger.Entry, error) {
	row := q.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM ledger_entries
WHERE group_key = $1 AND active
LIMIT 1`, groupKey)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

type ingestTx struct {
	tx *sql.Tx
}

// LockGroupKey takes a transaction-scoped advisory lock on the group key, so
// concurrent runs touching the same key read and write it one at a time.
func (t *ingestTx) LockGroupKey(ctx context.Context, groupKey string) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, groupKey)
	return err
}

func (t *ingestTx) FindActiveByGroupKey(ctx context.Context, groupKey string) (*ledger.Entry, error) {
	return findActive(ctx, t.tx, groupKey)
}

func (t *ingestTx) Insert(ctx context.Context, e *ledger.Entry) error {
	if e == nil {
		return ledger.ErrNilEntry
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO ledger_entries (
	id, import_id, content_hash, group_key, entry_date, date_raw,
	movement_type, payment_type, concept, deposit, commission, available_amount, net_amount,
	active, predecessor_id, source_file, source_sheet, source_row, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)`,
		e.ID, nullString(e.ImportID), e.ContentHash, e.GroupKey, e.Date, e.DateRaw,
		e.MovementType, e.PaymentType, e.Concept, e.Deposit, e.Commission, e.AvailableAmount, e.NetAmount,
		e.Active, nullString(e.PredecessorID), e.SourceFile, nullString(e.SourceSheet), e.SourceRow, e.CreatedAt,
	)
	return err
}

// Supersede deactivates previous before inserting successor so the partial
// unique index on active group keys never sees two rows.
func (t *ingestTx) Supersede(ctx context.Context, previous, successor *ledger.Entry, summary string, at time.Time) error {
	if previous == nil || successor == nil {
		return ledger.ErrNilEntry
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE ledger_entries
SET active = FALSE, superseded_at = $2, superseded_by_hash = $3, change_summary = $4, successor_id = $5
WHERE id = $1 AND active`, previous.ID, at, successor.ContentHash, summary, successor.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ledger.ErrConflict
	}
	next := *successor
	next.PredecessorID = previous.ID
	return t.Insert(ctx, &next)
}

func (t *ingestTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ledger.ErrTxDone
		}
		return err
	}
	return nil
}

func (t *ingestTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

var sortColumns = map[string]string{
	"fecha":     "entry_date",
	"deposito":  "deposit",
	"comision":  "commission",
	"concepto":  "concept",
	"sourceRow": "source_row",
}

// ListEntries pages entries. The balance is a running sum of net amounts in
// date order over the filtered set.
func (s *EntryStore) ListEntries(ctx context.Context, q ledger.EntryQuery) (ledger.EntryPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 500 {
		q.PerPage = 50
	}
	where, args := entryFilter(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE `+where, args...).Scan(&total); err != nil {
		return ledger.EntryPage{}, err
	}

	column, ok := sortColumns[q.Sort]
	if !ok {
		column = "entry_date"
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	args = append(args, q.PerPage, (q.Page-1)*q.PerPage)
	query := fmt.Sprintf(`
WITH balanced AS (
	SELECT %s,
		SUM(COALESCE(net_amount, 0)) OVER (ORDER BY entry_date, source_row, id) AS balance
	FROM ledger_entries
	WHERE %s
)
SELECT %s, balance
FROM balanced
ORDER BY %s %s NULLS LAST, entry_date, source_row, id
LIMIT $%d OFFSET $%d`, entryColumns, where, entryColumns, column, dir, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ledger.EntryPage{}, err
	}
	defer rows.Close()

	page := ledger.EntryPage{Page: q.Page, PerPage: q.PerPage, Total: total, Rows: []ledger.EntryRow{}}
	for rows.Next() {
		var balance decimal.Decimal
		e, err := scanEntry(rows, &balance)
		if err != nil {
			return ledger.EntryPage{}, err
		}
		page.Rows = append(page.Rows, ledger.EntryRow{Entry: *e, Balance: balance.StringFixed(2)})
	}
	if err := rows.Err(); err != nil {
		return ledger.EntryPage{}, err
	}
	return page, nil
}

func entryFilter(q ledger.EntryQuery) (string, []any) {
	clauses := []string{"TRUE"}
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if q.ActiveOnly {
		clauses = append(clauses, "active")
	}
	if q.SourceFile != "" {
		add("source_file = $%d", q.SourceFile)
	}
	if q.DateFrom != nil {
		add("entry_date >= $%d", *q.DateFrom)
	}
	if q.DateTo != nil {
		add("entry_date <= $%d", *q.DateTo)
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		add("concat_ws(' ', concept, movement_type, payment_type, source_file) ILIKE '%%' || $%d || '%%'", term)
	}
	return strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, extra ...any) (*ledger.Entry, error) {
	var (
		e                                    ledger.Entry
		importID, movement, payment, concept sql.NullString
		supersededBy, summary, pred, succ    sql.NullString
		sheet, checkedBy, linkedPayout       sql.NullString
		supersededAt, checkedAt              sql.NullTime
	)
	dest := []any{
		&e.ID, &importID, &e.ContentHash, &e.GroupKey, &e.Date, &e.DateRaw,
		&movement, &payment, &concept, &e.Deposit, &e.Commission, &e.AvailableAmount, &e.NetAmount,
		&e.Active, &supersededAt, &supersededBy, &summary, &pred, &succ,
		&e.SourceFile, &sheet, &e.SourceRow, &e.CreatedAt, &checkedAt, &checkedBy, &linkedPayout,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.ImportID = importID.String
	e.MovementType = stringPtr(movement)
	e.PaymentType = stringPtr(payment)
	e.Concept = stringPtr(concept)
	e.SupersededAt = timePtr(supersededAt)
	e.SupersededByHash = supersededBy.String
	e.ChangeSummary = summary.String
	e.PredecessorID = pred.String
	e.SuccessorID = succ.String
	e.SourceSheet = sheet.String
	e.Reconciliation = ledger.Reconciliation{
		CheckedAt:      timePtr(checkedAt),
		CheckedBy:      checkedBy.String,
		LinkedPayoutID: linkedPayout.String,
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
