package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ledger-recon/internal/recon/interfaces/events"
)

// OutboxRecord is a stored envelope with its delivery status.
type OutboxRecord struct {
	events.OutboxRecord
	Status string
}

// Outbox is an in-memory outbox for demo/testing.
type Outbox struct {
	mu      sync.Mutex
	records []*OutboxRecord
	byEvent map[string]string
}

// NewOutbox constructs an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{byEvent: make(map[string]string)}
}

func (o *Outbox) Insert(ctx context.Context, env events.Envelope) (string, error) {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.byEvent[env.EventID]; ok {
		return id, nil
	}
	id := uuid.NewString()
	o.records = append(o.records, &OutboxRecord{
		OutboxRecord: events.OutboxRecord{ID: id, Envelope: env},
		Status:       "pending",
	})
	o.byEvent[env.EventID] = id
	return id, nil
}

func (o *Outbox) ListPending(ctx context.Context, limit int) ([]events.OutboxRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []events.OutboxRecord
	for _, r := range o.records {
		if r.Status != "pending" {
			continue
		}
		out = append(out, r.OutboxRecord)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	if r := o.find(id); r != nil {
		r.Status = "sent"
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, maxAttempts int) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	if r := o.find(id); r != nil {
		r.Attempts++
		if r.Attempts >= maxAttempts {
			r.Status = "failed"
		}
	}
	return nil
}

// Records returns copies of every record in insertion order.
func (o *Outbox) Records() []OutboxRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboxRecord, len(o.records))
	for i, r := range o.records {
		out[i] = *r
	}
	return out
}

func (o *Outbox) find(id string) *OutboxRecord {
	for _, r := range o.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

var _ events.OutboxStore = (*Outbox)(nil)
