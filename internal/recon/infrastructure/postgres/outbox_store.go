package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"ledger-recon/internal/recon/interfaces/events"
)

// OutboxStore keeps reconciliation event envelopes in recon_outbox.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB) (*OutboxStore, error) {
	if db == nil {
		return nil, errors.New("recon outbox: nil db")
	}
	return &OutboxStore{db: db}, nil
}

// Insert writes an envelope as pending. Inserting the same event id twice is
// a no-op.
func (s *OutboxStore) Insert(ctx context.Context, env events.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO recon_outbox (id, event_id, event_type, aggregate_id, payload, status, attempts, created_at)
VALUES ($1,$2,$3,$4,$5,'pending',0,$6)
ON CONFLICT (event_id) DO NOTHING`,
		id, env.EventID, env.EventType, env.AggregateID, payload, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListPending returns pending records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]events.OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, payload, attempts
FROM recon_outbox
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []events.OutboxRecord
	for rows.Next() {
		var (
			record  events.OutboxRecord
			payload []byte
		)
		if err := rows.Scan(&record.ID, &payload, &record.Attempts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &record.Envelope); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent marks a record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE recon_outbox
SET status = 'sent', sent_at = $1
WHERE id = $2`, time.Now().UTC(), id)
	return err
}

// MarkFailed counts an attempt and gives up once maxAttempts is reached.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE recon_outbox
SET attempts = attempts + 1,
	status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END
WHERE id = $1`, id, maxAttempts)
	return err
}

var _ events.OutboxStore = (*OutboxStore)(nil)
