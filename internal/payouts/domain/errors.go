package payouts

import "errors"

var (
	// ErrPayoutNotFound is returned when a payout does not exist.
	ErrPayoutNotFound = errors.New("payouts: payout not found")
	// ErrBookingNotFound is returned when a booking does not exist.
	ErrBookingNotFound = errors.New("payouts: booking not found")
	// ErrBankEntryNotFound is returned when a bank entry does not exist.
	ErrBankEntryNotFound = errors.New("payouts: bank entry not found")
	// ErrMissingColumns is returned when a report lacks its required columns.
	ErrMissingColumns = errors.New("payouts: required columns missing")
	// ErrNilPayout is returned when saving a nil payout.
	ErrNilPayout = errors.New("payouts: nil payout")
)
