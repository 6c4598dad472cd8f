package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ledger-recon/internal/audit"
	"ledger-recon/internal/auth"
	ledgerapp "ledger-recon/internal/ledger/application"
	ledger "ledger-recon/internal/ledger/domain"
	"ledger-recon/internal/ledger/infrastructure/tabular"
)

const (
	maxUploadBytes = 32 << 20
	dateLayout     = "2006-01-02"
)

// ImportHandler accepts ledger sheet uploads.
type ImportHandler struct {
	service     *ledgerapp.IngestService
	auditLogger audit.Logger
}

// NewImportHandler constructs an ImportHandler.
func NewImportHandler(service *ledgerapp.IngestService, auditLogger audit.Logger) (*ImportHandler, error) {
	if service == nil {
		return nil, errors.New("ledger handler: nil service")
	}
	return &ImportHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/imports/ledger?dryRun=1&debug=1.
func (h *ImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	filename, table, err := readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	headers, rows := table.Split(0)

	q := r.URL.Query()
	summary, err := h.service.Ingest(r.Context(), ledgerapp.IngestRequest{
		Filename: filename,
		Sheet:    table.Sheet,
		Headers:  headers,
		Rows:     rows,
		DryRun:   flag(q.Get("dryRun")),
		Debug:    flag(q.Get("debug")),
		Actor:    auth.SubjectFromContext(r.Context()),
	})
	var (
		validationErr *ledger.ValidationError
		persistErr    *ledger.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.As(err, &persistErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(struct {
			Error   string            `json:"error"`
			Summary ledgerapp.Summary `json:"summary"`
		}{Error: err.Error(), Summary: summary})
		return
	case err != nil:
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)

	if !summary.DryRun {
		h.logAudit(r, summary)
	}
}

func (h *ImportHandler) logAudit(r *http.Request, summary ledgerapp.Summary) {
	if h.auditLogger == nil {
		return
	}
	meta := audit.Metadata(map[string]any{
		"filename":   summary.Filename,
		"rowsRead":   summary.RowsRead,
		"inserted":   summary.Inserted,
		"duplicates": summary.Duplicates,
		"superseded": summary.Superseded,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        audit.ActionLedgerImport,
		ResourceType:  audit.ResourceLedgerImport,
		ResourceID:    summary.ImportID,
		Metadata:      meta,
		PayloadDigest: audit.DigestJSON(meta),
		IP:            audit.ClientIP(r),
		UserAgent:     r.UserAgent(),
	})
}

// EntriesHandler lists ledger entries.
type EntriesHandler struct {
	lister ledger.EntryLister
}

// NewEntriesHandler constructs an EntriesHandler.
func NewEntriesHandler(lister ledger.EntryLister) (*EntriesHandler, error) {
	if lister == nil {
		return nil, errors.New("ledger handler: nil lister")
	}
	return &EntriesHandler{lister: lister}, nil
}

type entryDTO struct {
	ID              string     `json:"id"`
	Date            string     `json:"fechaOn"`
	DateRaw         string     `json:"fechaRaw"`
	MovementType    *string    `json:"tipoMovimiento"`
	PaymentType     *string    `json:"tipoPago"`
	Concept         *string    `json:"concepto"`
	Deposit         *string    `json:"deposito"`
	Commission      *string    `json:"comision"`
	AvailableAmount *string    `json:"montoDisponible"`
	NetAmount       *string    `json:"montoNeto"`
	Balance         string     `json:"balance"`
	Active          bool       `json:"active"`
	SupersededAt    *time.Time `json:"supersededAt,omitempty"`
	ChangeSummary   string     `json:"changeSummary,omitempty"`
	SourceFile      string     `json:"sourceFile"`
	SourceRow       int        `json:"sourceRow"`
	CheckedAt       *time.Time `json:"checkedAt"`
	CheckedBy       string     `json:"checkedBy,omitempty"`
	LinkedPayoutID  string     `json:"linkedPayoutId,omitempty"`
}

type pageDTO struct {
	Page    int        `json:"page"`
	PerPage int        `json:"perPage"`
	Total   int        `json:"total"`
	Rows    []entryDTO `json:"data"`
}

// ServeHTTP handles GET /api/v1/ledger/entries.
func (h *EntriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q, err := entryQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := h.lister.ListEntries(r.Context(), q)
	if err != nil {
		http.Error(w, "list entries error", http.StatusInternalServerError)
		return
	}
	out := pageDTO{Page: page.Page, PerPage: page.PerPage, Total: page.Total, Rows: make([]entryDTO, len(page.Rows))}
	for i, row := range page.Rows {
		e := row.Entry
		out.Rows[i] = entryDTO{
			ID:              e.ID,
			Date:            e.Date.Format(dateLayout),
			DateRaw:         e.DateRaw,
			MovementType:    e.MovementType,
			PaymentType:     e.PaymentType,
			Concept:         e.Concept,
			Deposit:         amount(e.Deposit.Valid, e.Deposit.Decimal.StringFixed(2)),
			Commission:      amount(e.Commission.Valid, e.Commission.Decimal.StringFixed(2)),
			AvailableAmount: amount(e.AvailableAmount.Valid, e.AvailableAmount.Decimal.StringFixed(2)),
			NetAmount:       amount(e.NetAmount.Valid, e.NetAmount.Decimal.StringFixed(2)),
			Balance:         row.Balance,
			Active:          e.Active,
			SupersededAt:    e.SupersededAt,
			ChangeSummary:   e.ChangeSummary,
			SourceFile:      e.SourceFile,
			SourceRow:       e.SourceRow,
			CheckedAt:       e.Reconciliation.CheckedAt,
			CheckedBy:       e.Reconciliation.CheckedBy,
			LinkedPayoutID:  e.Reconciliation.LinkedPayoutID,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func entryQuery(r *http.Request) (ledger.EntryQuery, error) {
	v := r.URL.Query()
	q := ledger.EntryQuery{
		Sort:       v.Get("sort"),
		Desc:       strings.EqualFold(v.Get("dir"), "desc"),
		Search:     v.Get("q"),
		SourceFile: v.Get("sourceFile"),
		ActiveOnly: v.Get("active") == "" || flag(v.Get("active")),
	}
	var err error
	if q.Page, err = intParam(v.Get("page"), 1); err != nil {
		return q, fmt.Errorf("page: %w", err)
	}
	if q.PerPage, err = intParam(v.Get("perPage"), 50); err != nil {
		return q, fmt.Errorf("perPage: %w", err)
	}
	for key, dst := range map[string]**time.Time{"from": &q.DateFrom, "to": &q.DateTo} {
		raw := v.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return q, fmt.Errorf("%s must be YYYY-MM-DD", key)
		}
		*dst = &t
	}
	return q, nil
}

func readUpload(w http.ResponseWriter, r *http.Request) (string, *tabular.Table, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.New("multipart field \"file\" is required")
	}
	defer file.Close()
	name := filepath.Base(header.Filename)
	table, err := tabular.Read(name, file)
	if err != nil {
		return "", nil, err
	}
	return name, table, nil
}

func flag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func amount(valid bool, s string) *string {
	if !valid {
		return nil
	}
	return &s
}
