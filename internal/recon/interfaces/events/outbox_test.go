package events

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	recon "ledger-recon/internal/recon/domain"
)

type stubOutbox struct {
	records  []OutboxRecord
	sent     []string
	failed   []string
	inserted []Envelope
}

func (o *stubOutbox) Insert(ctx context.Context, env Envelope) (string, error) {
	_ = ctx
	o.inserted = append(o.inserted, env)
	return "o-" + env.EventID, nil
}

func (o *stubOutbox) ListPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	_ = ctx
	if len(o.records) > limit {
		return o.records[:limit], nil
	}
	return o.records, nil
}

func (o *stubOutbox) MarkSent(ctx context.Context, id string) error {
	_ = ctx
	o.sent = append(o.sent, id)
	return nil
}

func (o *stubOutbox) MarkFailed(ctx context.Context, id string, maxAttempts int) error {
	_ = ctx
	_ = maxAttempts
	o.failed = append(o.failed, id)
	return nil
}

type stubSender struct {
	fail map[string]bool
	got  []string
}

func (s *stubSender) Send(ctx context.Context, env Envelope) error {
	_ = ctx
	if s.fail[env.EventID] {
		return errors.New("broker down")
	}
	s.got = append(s.got, env.EventID)
	return nil
}

func TestOutboxPublisherStoresEnvelopes(t *testing.T) {
	outbox := &stubOutbox{}
	p, err := NewOutboxPublisher(outbox)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ctx := context.Background()
	if err := p.PublishPairConfirmed(ctx, recon.PairConfirmed{PayoutID: "p-1", EntryID: "e-1", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("publish confirmed: %v", err)
	}
	if err := p.PublishBookingsSettled(ctx, recon.BookingsSettled{BookingIDs: []string{"b-1"}, Settled: 1, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("publish settled: %v", err)
	}
	if len(outbox.inserted) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(outbox.inserted))
	}
	if outbox.inserted[0].EventType != TypePairConfirmed || outbox.inserted[0].AggregateID != "p-1" {
		t.Fatalf("unexpected first envelope %+v", outbox.inserted[0])
	}
	if outbox.inserted[1].EventType != TypeBookingsSettled {
		t.Fatalf("unexpected second envelope %+v", outbox.inserted[1])
	}
	if _, err := NewOutboxPublisher(nil); err == nil {
		t.Fatalf("expected nil store error")
	}
}

func TestRelayDispatchMarksSentAndFailed(t *testing.T) {
	outbox := &stubOutbox{records: []OutboxRecord{
		{ID: "o-1", Envelope: Envelope{EventID: "ev-1", EventType: TypePairConfirmed}},
		{ID: "o-2", Envelope: Envelope{EventID: "ev-2", EventType: TypePairConfirmed}},
		{ID: "o-3", Envelope: Envelope{EventID: "ev-3", EventType: TypeBookingsSettled}},
	}}
	sender := &stubSender{fail: map[string]bool{"ev-2": true}}
	relay, err := NewRelay(outbox, sender, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	sent, err := relay.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if len(outbox.sent) != 2 || outbox.sent[0] != "o-1" || outbox.sent[1] != "o-3" {
		t.Fatalf("unexpected sent %v", outbox.sent)
	}
	if len(outbox.failed) != 1 || outbox.failed[0] != "o-2" {
		t.Fatalf("unexpected failed %v", outbox.failed)
	}
}

func TestNewRelayRejectsNilDeps(t *testing.T) {
	if _, err := NewRelay(nil, &stubSender{}, nil); err == nil {
		t.Fatalf("expected nil outbox error")
	}
	if _, err := NewRelay(&stubOutbox{}, nil, nil); err == nil {
		t.Fatalf("expected nil sender error")
	}
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	relay, err := NewRelay(&stubOutbox{}, &stubSender{}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("relay did not stop")
	}
}
