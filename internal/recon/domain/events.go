package recon

import "time"

// PairConfirmed is emitted after a payout and its counterpart are checked.
type PairConfirmed struct {
	PayoutID      string    `json:"payoutId"`
	ReferenceCode string    `json:"referenceCode"`
	EntryID       string    `json:"entryId"`
	Pool          Pool      `json:"pool"`
	Actor         string    `json:"actor"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// BookingsSettled is emitted after auto-settle flips bookings to paid.
type BookingsSettled struct {
	BookingIDs []string  `json:"bookingIds"`
	Settled    int       `json:"settled"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurredAt"`
}
