package events

import (
	"context"
	"errors"
	"log"
	"time"

	recon "ledger-recon/internal/recon/domain"
)

const (
	defaultRelayBatch       = 50
	defaultRelayMaxAttempts = 5
)

// OutboxRecord is a stored envelope awaiting delivery.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
	Attempts int
}

// OutboxStore keeps envelopes until the relay delivers them.
type OutboxStore interface {
	Insert(ctx context.Context, env Envelope) (string, error)
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	// MarkFailed counts a failed attempt. The record stays pending until
	// maxAttempts is reached.
	MarkFailed(ctx context.Context, id string, maxAttempts int) error
}

// OutboxPublisher writes reconciliation events to the outbox instead of
// sending them directly.
type OutboxPublisher struct {
	store OutboxStore
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(store OutboxStore) (*OutboxPublisher, error) {
	if store == nil {
		return nil, errors.New("recon outbox: nil store")
	}
	return &OutboxPublisher{store: store}, nil
}

func (p *OutboxPublisher) PublishPairConfirmed(ctx context.Context, event recon.PairConfirmed) error {
	return p.insert(ctx, event)
}

func (p *OutboxPublisher) PublishBookingsSettled(ctx context.Context, event recon.BookingsSettled) error {
	return p.insert(ctx, event)
}

func (p *OutboxPublisher) insert(ctx context.Context, event any) error {
	env, err := BuildEnvelope(event)
	if err != nil {
		return err
	}
	_, err = p.store.Insert(ctx, env)
	return err
}

// Sender delivers one envelope.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// Relay moves pending outbox records to a sender.
type Relay struct {
	outbox      OutboxStore
	sender      Sender
	logger      *log.Logger
	batch       int
	maxAttempts int
}

// NewRelay constructs a relay.
func NewRelay(outbox OutboxStore, sender Sender, logger *log.Logger) (*Relay, error) {
	if outbox == nil {
		return nil, errors.New("recon relay: nil outbox")
	}
	if sender == nil {
		return nil, errors.New("recon relay: nil sender")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		outbox:      outbox,
		sender:      sender,
		logger:      logger,
		batch:       defaultRelayBatch,
		maxAttempts: defaultRelayMaxAttempts,
	}, nil
}

// Dispatch sends one batch of pending records and returns how many were sent.
// Send failures are recorded on the record and do not stop the batch.
func (r *Relay) Dispatch(ctx context.Context) (int, error) {
	records, err := r.outbox.ListPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, record := range records {
		if err := r.sender.Send(ctx, record.Envelope); err != nil {
			r.logger.Printf("recon relay: event=%s type=%s attempt=%d failed: %v",
				record.Envelope.EventID, record.Envelope.EventType, record.Attempts+1, err)
			if markErr := r.outbox.MarkFailed(ctx, record.ID, r.maxAttempts); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := r.outbox.MarkSent(ctx, record.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run dispatches every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Dispatch(ctx); err != nil {
				r.logger.Printf("recon relay error: %v", err)
			}
		}
	}
}
