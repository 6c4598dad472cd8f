package events

import (
	"context"
	"errors"

	recon "ledger-recon/internal/recon/domain"
)

// Publisher receives reconciliation events.
type Publisher interface {
	PublishPairConfirmed(ctx context.Context, event recon.PairConfirmed) error
	PublishBookingsSettled(ctx context.Context, event recon.BookingsSettled) error
}

// Fanout delivers every event to each publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) PublishPairConfirmed(ctx context.Context, event recon.PairConfirmed) error {
	var errs []error
	for _, p := range f {
		if p != nil {
			errs = append(errs, p.PublishPairConfirmed(ctx, event))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishBookingsSettled(ctx context.Context, event recon.BookingsSettled) error {
	var errs []error
	for _, p := range f {
		if p != nil {
			errs = append(errs, p.PublishBookingsSettled(ctx, event))
		}
	}
	return errors.Join(errs...)
}
