package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresLog persists audit entries in audit_logs and reads resource trails
// back from it.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog constructs a PostgresLog.
func NewPostgresLog(db *sql.DB) (*PostgresLog, error) {
	if db == nil {
		return nil, errors.New("audit log: nil db")
	}
	return &PostgresLog{db: db}, nil
}

// Log inserts one entry.
func (l *PostgresLog) Log(ctx context.Context, entry Entry) error {
	entry = stamp(entry, time.Now())
	_, err := l.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, actor, role, action, resource_type, resource_id, metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11
)`, entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		nullJSON(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// Trail lists the entries of one resource, newest first.
func (l *PostgresLog) Trail(ctx context.Context, q TrailQuery) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, COALESCE(actor, ''), COALESCE(role, ''), action, resource_type, COALESCE(resource_id, ''),
	metadata, COALESCE(payload_digest, ''), COALESCE(ip, ''), COALESCE(user_agent, ''), created_at
FROM audit_logs
WHERE ($1 = '' OR resource_type = $1)
	AND ($2 = '' OR resource_id = $2)
	AND ($3 = '' OR action = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`, q.ResourceType, q.ResourceID, q.Action, q.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Role, &e.Action, &e.ResourceType, &e.ResourceID,
			&metadata, &e.PayloadDigest, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
