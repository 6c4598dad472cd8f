package application

import (
	"context"
	"errors"
	"strings"
	"time"

	ledger "ledger-recon/internal/ledger/domain"
	"ledger-recon/internal/observability/metrics"
	payouts "ledger-recon/internal/payouts/domain"
	recon "ledger-recon/internal/recon/domain"
)

// ConfirmRequest pairs a payout with a counterpart from its method's pool.
type ConfirmRequest struct {
	PayoutID string
	EntryID  string
	Actor    string
}

// Outcome describes a confirmation.
type Outcome struct {
	PayoutID         string     `json:"payoutId"`
	EntryID          string     `json:"entryId"`
	Method           string     `json:"method"`
	Pool             recon.Pool `json:"pool"`
	AlreadyConfirmed bool       `json:"alreadyConfirmed"`
	CheckedAt        time.Time  `json:"checkedAt"`
}

// counterpart is the pool side of a pair. ineligible is set when the record
// is no longer part of its pool, such as a superseded ledger entry.
type counterpart struct {
	linkedPayoutID string
	ineligible     error
}

// Confirm marks a payout and its counterpart checked and cross-links them.
// Confirming a pair that is already checked together is a no-op success.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (Outcome, error) {
	out, err := s.confirm(ctx, req)
	switch {
	case err == nil && out.AlreadyConfirmed:
		metrics.IncConfirm("already_confirmed")
	case err == nil:
		metrics.IncConfirm("confirmed")
		s.logger.Printf("recon confirm: payout=%s entry=%s pool=%s actor=%s", out.PayoutID, out.EntryID, out.Pool, req.Actor)
		s.publishConfirmed(ctx, out, req.Actor)
	case isRejection(err):
		metrics.IncConfirm("rejected")
	default:
		metrics.IncConfirm("error")
		s.logger.Printf("recon confirm: payout=%s entry=%s failed: %v", req.PayoutID, req.EntryID, err)
	}
	return out, err
}

func (s *Service) confirm(ctx context.Context, req ConfirmRequest) (Outcome, error) {
	payoutID := strings.TrimSpace(req.PayoutID)
	entryID := strings.TrimSpace(req.EntryID)
	if payoutID == "" || entryID == "" {
		return Outcome{}, recon.ErrMissingIDs
	}

	p, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return Outcome{}, err
	}
	method := s.methods.Classify(p.MethodRaw)
	pool := method.Pool()
	out := Outcome{PayoutID: payoutID, EntryID: entryID, Method: method.String(), Pool: pool}
	if pool == recon.PoolNone || pool == recon.PoolPayout {
		return out, recon.ErrUnsupportedMethod
	}

	side, err := s.loadCounterpart(ctx, pool, entryID)
	if err != nil {
		return out, err
	}

	// both sides are written together, so either link proves the pair
	if p.LinkedEntryID == entryID || side.linkedPayoutID == payoutID {
		return s.alreadyConfirmed(ctx, out)
	}
	if side.ineligible != nil {
		return out, side.ineligible
	}
	if p.IsChecked() || p.LinkedEntryID != "" || side.linkedPayoutID != "" {
		return out, recon.ErrAlreadyLinked
	}

	at := s.clock.Now().UTC()
	err = s.store.ConfirmPair(ctx, recon.Confirmation{
		PayoutID: payoutID,
		EntryID:  entryID,
		Pool:     pool,
		Actor:    req.Actor,
		At:       at,
	})
	if errors.Is(err, recon.ErrAlreadyLinked) {
		return s.alreadyConfirmed(ctx, out)
	}
	if err != nil {
		return out, &recon.PersistenceError{Op: "confirm", Err: err}
	}
	out.CheckedAt = at
	return out, nil
}

// alreadyConfirmed re-reads the payout and reports a no-op when it is
// linked to out.EntryID, else ErrAlreadyLinked.
func (s *Service) alreadyConfirmed(ctx context.Context, out Outcome) (Outcome, error) {
	p, err := s.store.GetPayout(ctx, out.PayoutID)
	if err != nil {
		return out, err
	}
	if p.LinkedEntryID != out.EntryID {
		return out, recon.ErrAlreadyLinked
	}
	out.AlreadyConfirmed = true
	if p.ReconCheckedAt != nil {
		out.CheckedAt = *p.ReconCheckedAt
	}
	return out, nil
}

func (s *Service) loadCounterpart(ctx context.Context, pool recon.Pool, id string) (counterpart, error) {
	switch pool {
	case recon.PoolLedger:
		e, err := s.store.GetLedgerEntry(ctx, id)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return counterpart{}, recon.ErrEntryNotFound
		}
		if err != nil {
			return counterpart{}, err
		}
		if e.MovementType == nil || !strings.EqualFold(strings.TrimSpace(*e.MovementType), s.cfg.InflowMovementType) {
			return counterpart{}, recon.ErrNotInflow
		}
		side := counterpart{linkedPayoutID: e.Reconciliation.LinkedPayoutID}
		switch {
		case !e.Active:
			side.ineligible = recon.ErrEntryNotFound
		case !e.IsInflow():
			side.ineligible = recon.ErrNotInflow
		}
		return side, nil
	case recon.PoolBank:
		e, err := s.store.GetBankEntry(ctx, id)
		if errors.Is(err, payouts.ErrBankEntryNotFound) {
			return counterpart{}, recon.ErrEntryNotFound
		}
		if err != nil {
			return counterpart{}, err
		}
		side := counterpart{linkedPayoutID: e.LinkedPayoutID}
		if !e.Deposit.IsPositive() {
			side.ineligible = recon.ErrNotInflow
		}
		return side, nil
	default:
		return counterpart{}, recon.ErrUnsupportedMethod
	}
}

func (s *Service) publishConfirmed(ctx context.Context, out Outcome, actor string) {
	if s.publisher == nil {
		return
	}
	event := recon.PairConfirmed{
		PayoutID:   out.PayoutID,
		EntryID:    out.EntryID,
		Pool:       out.Pool,
		Actor:      actor,
		OccurredAt: out.CheckedAt,
	}
	if p, err := s.store.GetPayout(ctx, out.PayoutID); err == nil {
		event.ReferenceCode = p.ReferenceCode
	}
	if err := s.publisher.PublishPairConfirmed(ctx, event); err != nil {
		s.logger.Printf("recon confirm: publish payout=%s: %v", out.PayoutID, err)
	}
}

func isRejection(err error) bool {
	for _, target := range []error{
		recon.ErrMissingIDs, recon.ErrUnsupportedMethod, recon.ErrEntryNotFound,
		recon.ErrNotInflow, recon.ErrAlreadyLinked, payouts.ErrPayoutNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
