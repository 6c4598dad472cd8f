package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"

	"ledger-recon/internal/audit"
	"ledger-recon/internal/auth"
	"ledger-recon/internal/ledger/infrastructure/tabular"
	payoutsapp "ledger-recon/internal/payouts/application"
	payouts "ledger-recon/internal/payouts/domain"
)

const maxUploadBytes = 32 << 20

var last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)

// ImportHandler accepts payout report uploads.
type ImportHandler struct {
	service     *payoutsapp.ImportService
	auditLogger audit.Logger
}

// NewImportHandler constructs an ImportHandler.
func NewImportHandler(service *payoutsapp.ImportService, auditLogger audit.Logger) (*ImportHandler, error) {
	if service == nil {
		return nil, errors.New("payouts handler: nil service")
	}
	return &ImportHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/imports/payouts.
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
	result, err := h.service.Import(r.Context(), payoutsapp.ImportRequest{
		Filename: filename,
		Headers:  headers,
		Rows:     rows,
		Actor:    auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		respondImportError(w, err)
		return
	}
	writeJSON(w, result)
	logAudit(h.auditLogger, r, audit.ActionPayoutImport, audit.ResourcePayoutReport, filename, result)
}

// BankImportHandler accepts bank statement uploads.
type BankImportHandler struct {
	service     *payoutsapp.BankImportService
	auditLogger audit.Logger
}

// NewBankImportHandler constructs a BankImportHandler.
func NewBankImportHandler(service *payoutsapp.BankImportService, auditLogger audit.Logger) (*BankImportHandler, error) {
	if service == nil {
		return nil, errors.New("bank handler: nil service")
	}
	return &BankImportHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/imports/bank?account=1234.
func (h *BankImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	account := r.URL.Query().Get("account")
	if account != "" && !last4Pattern.MatchString(account) {
		http.Error(w, "account must be the last 4 digits", http.StatusBadRequest)
		return
	}
	filename, table, err := readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.service.Import(r.Context(), payoutsapp.BankImportRequest{
		Filename:     filename,
		Records:      table.Records,
		AccountLast4: account,
		Actor:        auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		respondImportError(w, err)
		return
	}
	writeJSON(w, result)
	logAudit(h.auditLogger, r, audit.ActionBankImport, audit.ResourceBankStatement, filename, result)
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

func respondImportError(w http.ResponseWriter, err error) {
	if errors.Is(err, payouts.ErrMissingColumns) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, "import failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func logAudit(logger audit.Logger, r *http.Request, action, resourceType, resourceID string, result any) {
	if logger == nil {
		return
	}
	meta := audit.Metadata(result)
	_ = logger.Log(r.Context(), audit.Entry{
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Metadata:      meta,
		PayloadDigest: audit.DigestJSON(meta),
		IP:            audit.ClientIP(r),
		UserAgent:     r.UserAgent(),
	})
}
