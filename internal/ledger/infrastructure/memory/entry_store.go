package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	ledger "ledger-recon/internal/ledger/domain"
)

// EntryStore is an in-memory ledger for demo/testing. Ingest transactions
// stage their writes and apply them at Commit, refusing the commit when
// another run changed the active entry of a group key it read.
type EntryStore struct {
	mu       sync.RWMutex
	entries  map[string]*ledger.Entry
	order    []string
	hashes   map[string]struct{}
	active   map[string]string
	imports  []ledger.Import
	failNext error
}

// NewEntryStore constructs an empty store.
func NewEntryStore() *EntryStore {
	return &EntryStore{
		entries: make(map[string]*ledger.Entry),
		hashes:  make(map[string]struct{}),
		active:  make(map[string]string),
	}
}

// FailNextCommit makes the next Commit return err without applying anything.
func (s *EntryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// LoadAllContentHashes returns a copy of every stored content hash.
func (s *EntryStore) LoadAllContentHashes(ctx context.Context) (map[string]struct{}, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.hashes))
	for h := range s.hashes {
		out[h] = struct{}{}
	}
	return out, nil
}

// FindActiveByGroupKey returns a copy of the active entry, or nil.
func (s *EntryStore) FindActiveByGroupKey(ctx context.Context, groupKey string) (*ledger.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(groupKey), nil
}

func (s *EntryStore) activeLocked(groupKey string) *ledger.Entry {
	id, ok := s.active[groupKey]
	if !ok {
		return nil
	}
	e := *s.entries[id]
	return &e
}

// Get returns a copy of an entry.
func (s *EntryStore) Get(ctx context.Context, id string) (*ledger.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// Entries returns copies of all entries in insertion order.
func (s *EntryStore) Entries() []ledger.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entries[id])
	}
	return out
}

// Imports returns the recorded imports.
func (s *EntryStore) Imports() []ledger.Import {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.Import(nil), s.imports...)
}

// UpdateReconciliation applies fn to the stored entry under the write lock.
// fn may refuse the change by returning an error.
func (s *EntryStore) UpdateReconciliation(id string, fn func(e *ledger.Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	cp := *e
	if err := fn(&cp); err != nil {
		return err
	}
	e.Reconciliation = cp.Reconciliation
	return nil
}

// BeginIngest starts a staged transaction.
func (s *EntryStore) BeginIngest(ctx context.Context, imp ledger.Import) (ledger.IngestTx, error) {
	_ = ctx
	return &ingestTx{
		store:    s,
		imp:      imp,
		observed: make(map[string]string),
		staged:   make(map[string]*ledger.Entry),
	}, nil
}

type supersession struct {
	previousID string
	successor  *ledger.Entry
	summary    string
	at         time.Time
}

type ingestTx struct {
	store *EntryStore
	imp   ledger.Import
	// observed is the active entry id per locked group key at lock time.
	observed map[string]string
	// staged is the active entry per group key written by this transaction.
	staged  map[string]*ledger.Entry
	inserts []*ledger.Entry
	changes []supersession
	done    bool
}

func (tx *ingestTx) LockGroupKey(ctx context.Context, groupKey string) error {
	_ = ctx
	if tx.done {
		return ledger.ErrTxDone
	}
	if _, ok := tx.observed[groupKey]; ok {
		return nil
	}
	tx.store.mu.RLock()
	tx.observed[groupKey] = tx.store.active[groupKey]
	tx.store.mu.RUnlock()
	return nil
}

func (tx *ingestTx) FindActiveByGroupKey(ctx context.Context, groupKey string) (*ledger.Entry, error) {
	if tx.done {
		return nil, ledger.ErrTxDone
	}
	if e, ok := tx.staged[groupKey]; ok {
		cp := *e
		return &cp, nil
	}
	return tx.store.FindActiveByGroupKey(ctx, groupKey)
}

func (tx *ingestTx) Insert(ctx context.Context, entry *ledger.Entry) error {
	_ = ctx
	if tx.done {
		return ledger.ErrTxDone
	}
	if entry == nil {
		return ledger.ErrNilEntry
	}
	cp := *entry
	tx.inserts = append(tx.inserts, &cp)
	tx.staged[cp.GroupKey] = &cp
	return nil
}

func (tx *ingestTx) Supersede(ctx context.Context, previous, successor *ledger.Entry, summary string, at time.Time) error {
	_ = ctx
	if tx.done {
		return ledger.ErrTxDone
	}
	if previous == nil || successor == nil {
		return ledger.ErrNilEntry
	}
	cp := *successor
	cp.PredecessorID = previous.ID
	tx.changes = append(tx.changes, supersession{previousID: previous.ID, successor: &cp, summary: summary, at: at})
	tx.staged[cp.GroupKey] = &cp
	return nil
}

func (tx *ingestTx) Commit() error {
	if tx.done {
		return ledger.ErrTxDone
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	for key, seen := range tx.observed {
		if s.active[key] != seen {
			return ledger.ErrConflict
		}
	}

	s.imports = append(s.imports, tx.imp)
	for _, e := range tx.inserts {
		if _, ok := s.entries[e.ID]; ok {
			continue
		}
		s.put(e)
	}
	for _, c := range tx.changes {
		s.supersede(c)
	}
	return nil
}

func (tx *ingestTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return nil
}

func (s *EntryStore) put(e *ledger.Entry) {
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	s.hashes[e.ContentHash] = struct{}{}
	if e.Active {
		s.active[e.GroupKey] = e.ID
	}
}

// supersede applies one staged supersession. The predecessor may itself
// have been inserted by the same transaction.
func (s *EntryStore) supersede(c supersession) {
	if prev, ok := s.entries[c.previousID]; ok {
		at := c.at
		prev.Active = false
		prev.SupersededAt = &at
		prev.SupersededByHash = c.successor.ContentHash
		prev.ChangeSummary = c.summary
		prev.SuccessorID = c.successor.ID
	}
	s.put(c.successor)
}

// ListEntries pages entries with a running balance of net amounts ordered
// by date then source row.
func (s *EntryStore) ListEntries(ctx context.Context, q ledger.EntryQuery) (ledger.EntryPage, error) {
	_ = ctx
	q = normalizeQuery(q)
	s.mu.RLock()
	matched := make([]ledger.Entry, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		if matches(e, q) {
			matched = append(matched, *e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return chronological(matched[i], matched[j]) })
	rows := make([]ledger.EntryRow, len(matched))
	balance := decimal.Zero
	for i, e := range matched {
		if e.NetAmount.Valid {
			balance = balance.Add(e.NetAmount.Decimal)
		}
		rows[i] = ledger.EntryRow{Entry: e, Balance: balance.StringFixed(2)}
	}

	less := sortFunc(q.Sort)
	sort.SliceStable(rows, func(i, j int) bool {
		if q.Desc {
			return less(rows[j].Entry, rows[i].Entry)
		}
		return less(rows[i].Entry, rows[j].Entry)
	})

	page := ledger.EntryPage{Page: q.Page, PerPage: q.PerPage, Total: len(rows)}
	start := (q.Page - 1) * q.PerPage
	if start >= len(rows) {
		page.Rows = []ledger.EntryRow{}
		return page, nil
	}
	end := start + q.PerPage
	if end > len(rows) {
		end = len(rows)
	}
	page.Rows = rows[start:end]
	return page, nil
}

func normalizeQuery(q ledger.EntryQuery) ledger.EntryQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 500 {
		q.PerPage = 50
	}
	return q
}

func matches(e *ledger.Entry, q ledger.EntryQuery) bool {
	if q.ActiveOnly && !e.Active {
		return false
	}
	if q.SourceFile != "" && e.SourceFile != q.SourceFile {
		return false
	}
	if q.DateFrom != nil && e.Date.Before(*q.DateFrom) {
		return false
	}
	if q.DateTo != nil && e.Date.After(*q.DateTo) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		haystack := strings.ToLower(strings.Join([]string{
			derefString(e.Concept), derefString(e.MovementType), derefString(e.PaymentType), e.SourceFile,
		}, " "))
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func chronological(a, b ledger.Entry) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.SourceRow != b.SourceRow {
		return a.SourceRow < b.SourceRow
	}
	return a.ID < b.ID
}

func sortFunc(field string) func(a, b ledger.Entry) bool {
	switch field {
	case "deposito":
		return func(a, b ledger.Entry) bool { return amountLess(a.Deposit, b.Deposit) }
	case "comision":
		return func(a, b ledger.Entry) bool { return amountLess(a.Commission, b.Commission) }
	case "concepto":
		return func(a, b ledger.Entry) bool { return derefString(a.Concept) < derefString(b.Concept) }
	case "sourceRow":
		return func(a, b ledger.Entry) bool { return a.SourceRow < b.SourceRow }
	default:
		return chronological
	}
}

func amountLess(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return !a.Valid && b.Valid
	}
	return a.Decimal.LessThan(b.Decimal)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
