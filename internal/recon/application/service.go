package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	recon "ledger-recon/internal/recon/domain"
)

const dateLayout = "2006-01-02"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Publisher receives reconciliation events.
type Publisher interface {
	PublishPairConfirmed(ctx context.Context, event recon.PairConfirmed) error
	PublishBookingsSettled(ctx context.Context, event recon.BookingsSettled) error
}

// Option configures Service.
type Option func(*Service)

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithClock overrides the clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// Service matches payouts against the ledger and bank pools and records
// confirmed pairs.
type Service struct {
	store     recon.Store
	cfg       Config
	methods   recon.MethodTable
	tolerance decimal.Decimal
	clock     Clock
	logger    *log.Logger
	publisher Publisher
}

// NewService constructs the reconciliation service.
func NewService(store recon.Store, cfg Config, logger *log.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("recon service: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	methods, _ := cfg.MethodTable()
	tol, _ := cfg.ToleranceAmount()
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		store:     store,
		cfg:       cfg,
		methods:   methods,
		tolerance: tol,
		clock:     SystemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Classify exposes the method table.
func (s *Service) Classify(raw string) recon.Method {
	return s.methods.Classify(raw)
}

func (s *Service) concurrency() int {
	if s.cfg.Concurrency < 1 {
		return 1
	}
	return s.cfg.Concurrency
}

func clampDays(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func clampTolerance(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func checkRange(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return recon.ErrInvalidRange
	}
	return nil
}

func shift(t *time.Time, days int) *time.Time {
	if t == nil {
		return nil
	}
	v := t.AddDate(0, 0, days)
	return &v
}
