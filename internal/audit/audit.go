package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the service.
const (
	ActionLedgerImport = "ledger.import"
	ActionPayoutImport = "payouts.import"
	ActionBankImport   = "bank.import"
	ActionConfirm      = "recon.confirm"
	ActionAutoSettle   = "recon.auto_settle"
)

// Resource types the actions above act on.
const (
	ResourceLedgerImport  = "ledger_import"
	ResourcePayoutReport  = "payout_report"
	ResourceBankStatement = "bank_statement"
	ResourcePayout        = "payout"
	ResourceBookings      = "bookings"
)

// DefaultTrailLimit caps a trail query without an explicit limit.
const DefaultTrailLimit = 50

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// TrailQuery selects the entries recorded against one resource.
// Action narrows the trail when set.
type TrailQuery struct {
	ResourceType string
	ResourceID   string
	Action       string
	Limit        int
}

// TrailReader reads entries back, newest first.
type TrailReader interface {
	Trail(ctx context.Context, q TrailQuery) ([]Entry, error)
}

func (q TrailQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultTrailLimit
	}
	return q.Limit
}

func (q TrailQuery) matches(e Entry) bool {
	if q.ResourceType != "" && e.ResourceType != q.ResourceType {
		return false
	}
	if q.ResourceID != "" && e.ResourceID != q.ResourceID {
		return false
	}
	return q.Action == "" || e.Action == q.Action
}

// stamp fills the id, timestamp and digest an entry was logged without.
func stamp(entry Entry, now time.Time) Entry {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	return entry
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Metadata marshals v for Entry.Metadata, or returns nil.
func Metadata(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// MemoryLog keeps entries in memory for demo/testing.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// Log appends an entry.
func (m *MemoryLog) Log(ctx context.Context, entry Entry) error {
	_ = ctx
	entry = stamp(entry, time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Trail returns the matching entries, newest first.
func (m *MemoryLog) Trail(ctx context.Context, q TrailQuery) ([]Entry, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < q.limit(); i-- {
		if q.matches(m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// Entries returns a copy of the logged entries.
func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
