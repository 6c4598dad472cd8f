package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	recon "ledger-recon/internal/recon/domain"
)

// Event types carried in Envelope.EventType.
const (
	TypePairConfirmed   = "recon.pair_confirmed"
	TypeBookingsSettled = "recon.bookings_settled"
)

// Envelope wraps an event payload with metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateID   string          `json:"aggregate_id"`
	Actor         string          `json:"actor,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// BuildEnvelope constructs an envelope for a reconciliation event.
func BuildEnvelope(event any) (Envelope, error) {
	var (
		env Envelope
		err error
	)
	switch e := event.(type) {
	case recon.PairConfirmed:
		env = Envelope{EventType: TypePairConfirmed, OccurredAt: e.OccurredAt, AggregateID: e.PayoutID, Actor: e.Actor}
	case recon.BookingsSettled:
		var aggregate string
		if len(e.BookingIDs) > 0 {
			aggregate = e.BookingIDs[0]
		}
		env = Envelope{EventType: TypeBookingsSettled, OccurredAt: e.OccurredAt, AggregateID: aggregate, Actor: e.Actor}
	case nil:
		return Envelope{}, errors.New("recon events: nil event")
	default:
		return Envelope{}, errors.New("recon events: unsupported event")
	}
	env.Payload, err = json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	env.EventID = uuid.NewString()
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	env.SchemaVersion = 1
	return env, nil
}
