package events

import (
	"context"
	"errors"
	"log"

	recon "ledger-recon/internal/recon/domain"
)

// LoggingPublisher logs reconciliation events.
type LoggingPublisher struct {
	logger *log.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *log.Logger) *LoggingPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishPairConfirmed logs the event.
func (p *LoggingPublisher) PublishPairConfirmed(ctx context.Context, event recon.PairConfirmed) error {
	_ = ctx
	if p == nil {
		return errors.New("recon publisher: nil publisher")
	}
	p.logger.Printf("recon pair confirmed: payout=%s ref=%s entry=%s pool=%s actor=%s", event.PayoutID, event.ReferenceCode, event.EntryID, event.Pool, event.Actor)
	return nil
}

// PublishBookingsSettled logs the event.
func (p *LoggingPublisher) PublishBookingsSettled(ctx context.Context, event recon.BookingsSettled) error {
	_ = ctx
	if p == nil {
		return errors.New("recon publisher: nil publisher")
	}
	p.logger.Printf("recon bookings settled: count=%d actor=%s", event.Settled, event.Actor)
	return nil
}
