package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	recon "ledger-recon/internal/recon/domain"
)

// WebhookPublisher posts a short text notice per event to a chat webhook.
type WebhookPublisher struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookPublisher constructs a publisher posting to url.
func NewWebhookPublisher(url string) (*WebhookPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("recon webhook: empty url")
	}
	return &WebhookPublisher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *WebhookPublisher) PublishPairConfirmed(ctx context.Context, event recon.PairConfirmed) error {
	var b strings.Builder
	b.WriteString("[Recon] payout confirmed\n")
	fmt.Fprintf(&b, "Payout: %s", event.PayoutID)
	if event.ReferenceCode != "" {
		fmt.Fprintf(&b, " (%s)", event.ReferenceCode)
	}
	fmt.Fprintf(&b, "\nEntry: %s [%s]\n", event.EntryID, event.Pool)
	if event.Actor != "" {
		fmt.Fprintf(&b, "By: %s\n", event.Actor)
	}
	return p.post(ctx, b.String())
}

func (p *WebhookPublisher) PublishBookingsSettled(ctx context.Context, event recon.BookingsSettled) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[Recon] %d bookings marked paid\n", event.Settled)
	if len(event.BookingIDs) > 0 {
		fmt.Fprintf(&b, "Bookings: %s\n", strings.Join(event.BookingIDs, ", "))
	}
	if event.Actor != "" {
		fmt.Fprintf(&b, "By: %s\n", event.Actor)
	}
	return p.post(ctx, b.String())
}

func (p *WebhookPublisher) post(ctx context.Context, content string) error {
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: strings.TrimSpace(content)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("recon webhook: status %d", resp.StatusCode)
	}
	return nil
}
