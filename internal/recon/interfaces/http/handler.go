package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"ledger-recon/internal/audit"
	"ledger-recon/internal/auth"
	"ledger-recon/internal/observability/metrics"
	payouts "ledger-recon/internal/payouts/domain"
	reconapp "ledger-recon/internal/recon/application"
	recon "ledger-recon/internal/recon/domain"
)

const prefix = "/api/v1/recon/"

// Handler serves reconciliation endpoints under /api/v1/recon/.
type Handler struct {
	service     *reconapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *reconapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("recon handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP routes reconciliation requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	route := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	switch {
	case route == "banks" && r.Method == http.MethodGet:
		h.handleBanks(w, r)
	case route == "banks/check" && r.Method == http.MethodPost:
		h.handleCheck(w, r)
	case route == "banks/export.xlsx" && r.Method == http.MethodGet:
		h.handleExport(w, r, "xlsx")
	case route == "banks/export.pdf" && r.Method == http.MethodGet:
		h.handleExport(w, r, "pdf")
	case route == "unmatched-inflows" && r.Method == http.MethodGet:
		h.handleInflows(w, r)
	case route == "reservations" && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		h.handleReservations(w, r)
	case route == "audit" && r.Method == http.MethodGet:
		h.handleAuditTrail(w, r)
	case route == "banks" || route == "banks/check" || route == "unmatched-inflows" || route == "reservations" || route == "audit":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) bankQuery(r *http.Request) (reconapp.BankQuery, error) {
	q := h.service.DefaultBankQuery()
	v := r.URL.Query()
	err := window{from: &q.From, to: &q.To, pre: &q.PreDays, post: &q.PostDays, sentOffset: &q.SentOffsetDays, tolerance: &q.Tolerance}.parse(v)
	if err != nil {
		return q, err
	}
	q.IncludeChecked = parseBoolParam(v, "includeChecked", q.IncludeChecked)
	return q, nil
}

func (h *Handler) handleBanks(w http.ResponseWriter, r *http.Request) {
	q, err := h.bankQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	listing, err := h.service.ReconcileBanks(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, listing)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	start := time.Now()
	q, err := h.bankQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	listing, err := h.service.ReconcileBanks(r.Context(), q)
	if err != nil {
		metrics.ObserveExport(format, "error", time.Since(start))
		respondError(w, err)
		return
	}
	var (
		data        []byte
		contentType string
	)
	switch format {
	case "pdf":
		data, err = BuildBankListingPDF(listing)
		contentType = "application/pdf"
	default:
		data, err = BuildBankListingXLSX(listing)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveExport(format, "error", time.Since(start))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, "ok", time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="bank-recon.`+format+`"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req struct {
		PayoutID string `json:"payoutId"`
		EntryID  string `json:"entryId"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	out, err := h.service.Confirm(r.Context(), reconapp.ConfirmRequest{
		PayoutID: req.PayoutID,
		EntryID:  req.EntryID,
		Actor:    auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, struct {
		Success bool `json:"success"`
		reconapp.Outcome
	}{Success: true, Outcome: out})

	if !out.AlreadyConfirmed {
		h.logAudit(r, audit.ActionConfirm, audit.ResourcePayout, out.PayoutID, map[string]any{
			"entryId": out.EntryID,
			"pool":    out.Pool,
			"method":  out.Method,
		})
	}
}

func (h *Handler) handleInflows(w http.ResponseWriter, r *http.Request) {
	q := h.service.DefaultInflowQuery()
	err := window{from: &q.From, to: &q.To, pre: &q.PreDays, post: &q.PostDays, sentOffset: &q.SentOffsetDays, tolerance: &q.Tolerance}.parse(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	listing, err := h.service.UnmatchedInflows(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, listing)
}

func (h *Handler) handleReservations(w http.ResponseWriter, r *http.Request) {
	q := h.service.DefaultReservationQuery()
	v := r.URL.Query()
	err := window{from: &q.From, to: &q.To, pre: &q.PreDays, sentOffset: &q.SentOffsetDays, tolerance: &q.Tolerance}.parse(v)
	if err == nil {
		q.ItemsPre, err = parseIntParam(v, "itemsPre", q.ItemsPre)
	}
	if err == nil {
		q.ItemsPost, err = parseIntParam(v, "itemsPost", q.ItemsPost)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q.DryRun = parseBoolParam(v, "dryRun", false)
	q.Actor = auth.SubjectFromContext(r.Context())

	listing, err := h.service.AutoSettle(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, listing)

	if listing.Settled > 0 {
		h.logAudit(r, audit.ActionAutoSettle, audit.ResourceBookings, "", map[string]any{
			"settled": listing.Settled,
			"from":    listing.Meta.From,
			"to":      listing.Meta.To,
		})
	}
}

// handleAuditTrail lists who confirmed or settled what, newest first.
func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.auditLogger.(audit.TrailReader)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	v := r.URL.Query()
	q := audit.TrailQuery{ResourceType: audit.ResourcePayout, ResourceID: strings.TrimSpace(v.Get("payoutId"))}
	if q.ResourceID == "" {
		q = audit.TrailQuery{ResourceType: audit.ResourceBookings, Action: audit.ActionAutoSettle}
	}
	limit, err := parseIntParam(v, "limit", audit.DefaultTrailLimit)
	if err != nil || limit <= 0 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	q.Limit = limit
	entries, err := reader.Trail(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}
	type trailRow struct {
		Action    string          `json:"action"`
		Actor     string          `json:"actor"`
		Role      string          `json:"role"`
		Resource  string          `json:"resourceId,omitempty"`
		Metadata  json.RawMessage `json:"metadata,omitempty"`
		CreatedAt string          `json:"createdAt"`
	}
	rows := make([]trailRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, trailRow{
			Action:    e.Action,
			Actor:     e.Actor,
			Role:      e.Role,
			Resource:  e.ResourceID,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, struct {
		Count int        `json:"count"`
		Rows  []trailRow `json:"rows"`
	}{Count: len(rows), Rows: rows})
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	metadata := audit.Metadata(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Metadata:      metadata,
		PayloadDigest: audit.DigestJSON(metadata),
		IP:            audit.ClientIP(r),
		UserAgent:     r.UserAgent(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	var persistErr *recon.PersistenceError
	switch {
	case errors.Is(err, recon.ErrMissingIDs),
		errors.Is(err, recon.ErrInvalidRange),
		errors.Is(err, recon.ErrUnsupportedMethod),
		errors.Is(err, recon.ErrNotInflow):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, payouts.ErrPayoutNotFound), errors.Is(err, recon.ErrEntryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, recon.ErrAlreadyLinked):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &persistErr):
		http.Error(w, "reconciliation store error", http.StatusInternalServerError)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
