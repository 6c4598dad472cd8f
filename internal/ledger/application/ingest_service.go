package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledger "ledger-recon/internal/ledger/domain"
	"ledger-recon/internal/ledger/normalize"
	"ledger-recon/internal/observability/metrics"
)

const (
	maxChanges      = 20
	maxIssues       = 20
	maxDebugSamples = 10

	defaultInflowMovementType = "Abono"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IngestRequest is one uploaded ledger sheet.
type IngestRequest struct {
	Filename string
	Sheet    string
	Headers  []string
	Rows     [][]normalize.Cell
	DryRun   bool
	Debug    bool
	Actor    string
}

// Change is one reported supersession.
type Change struct {
	GroupKey   string `json:"groupKey"`
	PreviousID string `json:"previousId"`
	Summary    string `json:"summary"`
}

// Issue is a skipped row kept for reporting.
type Issue struct {
	Row    int    `json:"row"`
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Sample is a parsed inflow row included in debug output.
type Sample struct {
	Row        int    `json:"row"`
	RawDate    string `json:"rawDate"`
	Date       string `json:"date"`
	RawDeposit string `json:"rawDeposit"`
	Deposit    string `json:"deposit"`
	RawFee     string `json:"rawCommission"`
	Commission string `json:"commission"`
	Net        string `json:"net"`
}

// Ratios summarizes commission over deposit for inflow rows.
type Ratios struct {
	Count  int    `json:"count"`
	Median string `json:"median,omitempty"`
	P90    string `json:"p90,omitempty"`
}

// DebugInfo describes how the sheet was read.
type DebugInfo struct {
	Headers   []string       `json:"headers"`
	HeaderMap map[string]int `json:"headerMap"`
	Samples   []Sample       `json:"samples"`
	Ratios    Ratios         `json:"commissionRatios"`
}

// Summary reports the outcome of one ingestion run.
type Summary struct {
	DryRun         bool       `json:"dryRun"`
	Filename       string     `json:"filename"`
	ImportID       string     `json:"importId,omitempty"`
	RowsRead       int        `json:"rowsRead"`
	RowsWithNoDate int        `json:"rowsWithNoDate"`
	UnparsedDates  int        `json:"unparsedDates"`
	AmbiguousDates int        `json:"ambiguousDates"`
	Inserted       int        `json:"inserted"`
	Duplicates     int        `json:"duplicates"`
	Superseded     int        `json:"superseded"`
	Changes        []Change   `json:"changes"`
	Issues         []Issue    `json:"issues,omitempty"`
	Debug          *DebugInfo `json:"debugInfo,omitempty"`
}

func (s Summary) counts() ledger.Counts {
	return ledger.Counts{
		RowsRead:   s.RowsRead,
		Inserted:   s.Inserted,
		Duplicates: s.Duplicates,
		Superseded: s.Superseded,
	}
}

// IngestOption configures IngestService.
type IngestOption func(*IngestService)

// WithInflowMovementType sets the movement type sampled in debug output.
func WithInflowMovementType(movementType string) IngestOption {
	return func(s *IngestService) {
		if strings.TrimSpace(movementType) != "" {
			s.inflowType = movementType
		}
	}
}

// WithIDGenerator overrides entry and import id generation.
func WithIDGenerator(next func() string) IngestOption {
	return func(s *IngestService) {
		if next != nil {
			s.newID = next
		}
	}
}

// IngestService deduplicates and versions ledger rows.
type IngestService struct {
	store      ledger.EntryStore
	clock      Clock
	logger     *log.Logger
	inflowType string
	newID      func() string
}

// NewIngestService constructs the ingestion pipeline.
func NewIngestService(store ledger.EntryStore, clock Clock, logger *log.Logger, opts ...IngestOption) (*IngestService, error) {
	if store == nil {
		return nil, errors.New("ledger ingest: nil store")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &IngestService{
		store:      store,
		clock:      clock,
		logger:     logger,
		inflowType: defaultInflowMovementType,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Ingest runs one sheet through dedup and supersession. Malformed rows are
// counted and skipped. A store failure rolls back every write of the run and
// returns the counters reached so far with a *ledger.PersistenceError.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (Summary, error) {
	start := time.Now()
	summary, err := s.ingest(ctx, req)

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case req.DryRun:
		result = metrics.ResultDryRun
	}
	metrics.ObserveIngest(result, metrics.IngestRows{
		Inserted:      summary.Inserted,
		Duplicates:    summary.Duplicates,
		Superseded:    summary.Superseded,
		NoDate:        summary.RowsWithNoDate,
		UnparsedDates: summary.UnparsedDates,
	}, time.Since(start))

	if err != nil {
		s.logger.Printf("ledger ingest: file=%s dry_run=%t failed: %v", req.Filename, req.DryRun, err)
		return summary, err
	}
	s.logger.Printf("ledger ingest: file=%s dry_run=%t read=%d inserted=%d duplicates=%d superseded=%d no_date=%d unparsed=%d ambiguous=%d",
		req.Filename, req.DryRun, summary.RowsRead, summary.Inserted, summary.Duplicates, summary.Superseded,
		summary.RowsWithNoDate, summary.UnparsedDates, summary.AmbiguousDates)
	return summary, nil
}

func (s *IngestService) ingest(ctx context.Context, req IngestRequest) (Summary, error) {
	summary := Summary{DryRun: req.DryRun, Filename: req.Filename, Changes: []Change{}}
	headerMap, err := validateRequest(req)
	if err != nil {
		return summary, err
	}

	known, err := s.store.LoadAllContentHashes(ctx)
	if err != nil {
		return summary, &ledger.PersistenceError{Stage: "load content hashes", Err: err}
	}
	if known == nil {
		known = make(map[string]struct{})
	}

	now := s.clock.Now().UTC()
	run := &ingestRun{
		service:   s,
		req:       req,
		headerMap: headerMap,
		known:     known,
		pending:   make(map[string]*ledger.Entry),
		summary:   &summary,
		now:       now,
	}
	if req.Debug {
		summary.Debug = &DebugInfo{
			Headers:   append([]string(nil), req.Headers...),
			HeaderMap: headerMap.Names(),
			Samples:   []Sample{},
		}
	}

	if !req.DryRun {
		imp := ledger.Import{ID: s.newID(), Filename: req.Filename, UploadedAt: now, Actor: req.Actor}
		tx, err := s.store.BeginIngest(ctx, imp)
		if err != nil {
			return summary, &ledger.PersistenceError{Stage: "begin", Err: err}
		}
		run.tx = tx
		run.importID = imp.ID
	}

	for i, row := range req.Rows {
		if err := ctx.Err(); err != nil {
			return summary, run.abort(&ledger.PersistenceError{Stage: "cancelled", Row: i + 2, Counts: summary.counts(), Err: err})
		}
		if err := run.process(ctx, i+2, row); err != nil {
			return summary, run.abort(err)
		}
	}

	if run.tx != nil {
		if err := run.tx.Commit(); err != nil {
			return summary, &ledger.PersistenceError{Stage: "commit", Counts: summary.counts(), Err: err}
		}
		summary.ImportID = run.importID
	}
	if summary.Debug != nil {
		summary.Debug.Ratios = run.ratios()
	}
	return summary, nil
}

func validateRequest(req IngestRequest) (normalize.HeaderMap, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, &ledger.ValidationError{Field: "filename", Reason: "required"}
	}
	if len(req.Headers) == 0 {
		return nil, &ledger.ValidationError{Field: "headers", Reason: "sheet has no header row"}
	}
	headerMap := normalize.BuildHeaderMap(req.Headers, normalize.LedgerTargets)
	if !headerMap.Has(normalize.FieldDate) {
		return nil, &ledger.ValidationError{Field: "headers", Reason: "no date column"}
	}
	return headerMap, nil
}

// ingestRun holds the state of one Ingest call.
type ingestRun struct {
	service   *IngestService
	req       IngestRequest
	headerMap normalize.HeaderMap
	known     map[string]struct{}
	// pending is the active entry per group key as seen by this run.
	pending  map[string]*ledger.Entry
	tx       ledger.IngestTx
	importID string
	summary  *Summary
	now      time.Time
	ratioSet []decimal.Decimal
}

func (r *ingestRun) abort(err error) error {
	if r.tx != nil {
		if rbErr := r.tx.Rollback(); rbErr != nil {
			r.service.logger.Printf("ledger ingest: rollback failed: %v", rbErr)
		}
	}
	return err
}

func (r *ingestRun) process(ctx context.Context, rowNumber int, row []normalize.Cell) error {
	s := r.summary
	s.RowsRead++

	rawDate := r.headerMap.Cell(row, normalize.FieldDate)
	if rawDate.IsEmpty() {
		s.RowsWithNoDate++
		return nil
	}
	date, ok := normalize.ParseDate(rawDate)
	if !ok {
		s.UnparsedDates++
		r.issue(ledger.RowError{Row: rowNumber, Field: string(normalize.FieldDate), Raw: rawDate.String(), Reason: "unparseable date"})
		return nil
	}
	if normalize.DateAmbiguous(rawDate) {
		s.AmbiguousDates++
	}

	rawDeposit := r.headerMap.Cell(row, normalize.FieldDeposit)
	rawFee := r.headerMap.Cell(row, normalize.FieldCommission)
	fields := ledger.Fields{
		Date:            date,
		MovementType:    normalize.NullIfEmpty(r.headerMap.Cell(row, normalize.FieldMovementType)),
		PaymentType:     normalize.NullIfEmpty(r.headerMap.Cell(row, normalize.FieldPaymentType)),
		Concept:         normalize.NullIfEmpty(r.headerMap.Cell(row, normalize.FieldConcept)),
		Deposit:         normalize.ParseAmount(rawDeposit),
		Commission:      normalize.ParseAmount(rawFee),
		AvailableAmount: normalize.ParseAmount(r.headerMap.Cell(row, normalize.FieldAvailable)),
	}
	net := fields.NetAmount()
	r.observe(rowNumber, rawDate, rawDeposit, rawFee, fields, net)

	hash := ledger.ContentHash(fields)
	if _, seen := r.known[hash]; seen {
		s.Duplicates++
		return nil
	}
	groupKey := ledger.GroupKey(fields)

	active, err := r.activeEntry(ctx, groupKey)
	if err != nil {
		return &ledger.PersistenceError{Stage: "find active", Row: rowNumber, GroupKey: groupKey, Counts: s.counts(), Err: err}
	}

	entry := &ledger.Entry{
		ID:          r.service.newID(),
		ImportID:    r.importID,
		ContentHash: hash,
		GroupKey:    groupKey,
		Fields:      fields,
		DateRaw:     rawDate.String(),
		NetAmount:   net,
		Active:      true,
		SourceFile:  r.req.Filename,
		SourceSheet: r.req.Sheet,
		SourceRow:   rowNumber,
		CreatedAt:   r.now,
	}

	if active == nil {
		if r.tx != nil {
			if err := r.tx.Insert(ctx, entry); err != nil {
				return &ledger.PersistenceError{Stage: "insert", Row: rowNumber, GroupKey: groupKey, Counts: s.counts(), Err: err}
			}
		}
		s.Inserted++
		r.remember(entry)
		return nil
	}

	changes := ledger.Diff(active.Fields, fields)
	if len(changes) == 0 {
		s.Duplicates++
		return nil
	}
	text := ledger.Summarize(changes)
	entry.PredecessorID = active.ID
	if r.tx != nil {
		if err := r.tx.Supersede(ctx, active, entry, text, r.now); err != nil {
			return &ledger.PersistenceError{Stage: "supersede", Row: rowNumber, GroupKey: groupKey, Counts: s.counts(), Err: err}
		}
	}
	s.Superseded++
	if len(s.Changes) < maxChanges {
		s.Changes = append(s.Changes, Change{GroupKey: groupKey, PreviousID: active.ID, Summary: text})
	}
	r.remember(entry)
	return nil
}

// activeEntry resolves the active entry of a group key: entries written by
// this run first, then the store. Inside a transaction the key is locked
// before it is read.
func (r *ingestRun) activeEntry(ctx context.Context, groupKey string) (*ledger.Entry, error) {
	if e, ok := r.pending[groupKey]; ok {
		return e, nil
	}
	if r.tx != nil {
		if err := r.tx.LockGroupKey(ctx, groupKey); err != nil {
			return nil, err
		}
		return r.tx.FindActiveByGroupKey(ctx, groupKey)
	}
	return r.service.store.FindActiveByGroupKey(ctx, groupKey)
}

func (r *ingestRun) remember(e *ledger.Entry) {
	r.known[e.ContentHash] = struct{}{}
	r.pending[e.GroupKey] = e
}

func (r *ingestRun) issue(e ledger.RowError) {
	if len(r.summary.Issues) >= maxIssues {
		return
	}
	r.summary.Issues = append(r.summary.Issues, Issue{Row: e.Row, Field: e.Field, Raw: e.Raw, Reason: e.Reason})
}

func (r *ingestRun) observe(rowNumber int, rawDate, rawDeposit, rawFee normalize.Cell, f ledger.Fields, net decimal.NullDecimal) {
	debug := r.summary.Debug
	if debug == nil || f.MovementType == nil || !strings.EqualFold(*f.MovementType, r.service.inflowType) {
		return
	}
	if len(debug.Samples) < maxDebugSamples {
		debug.Samples = append(debug.Samples, Sample{
			Row:        rowNumber,
			RawDate:    rawDate.String(),
			Date:       f.Date.Format("2006-01-02"),
			RawDeposit: rawDeposit.String(),
			Deposit:    normalize.FormatAmount(f.Deposit),
			RawFee:     rawFee.String(),
			Commission: normalize.FormatAmount(f.Commission),
			Net:        normalize.FormatAmount(net),
		})
	}
	if f.IsInflow() && f.Commission.Valid {
		r.ratioSet = append(r.ratioSet, f.Commission.Decimal.Div(f.Deposit.Decimal))
	}
}

func (r *ingestRun) ratios() Ratios {
	n := len(r.ratioSet)
	if n == 0 {
		return Ratios{}
	}
	sorted := append([]decimal.Decimal(nil), r.ratioSet...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	var median decimal.Decimal
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
	}
	p90 := sorted[(n*9+9)/10-1]
	return Ratios{Count: n, Median: median.StringFixed(4), P90: p90.StringFixed(4)}
}
