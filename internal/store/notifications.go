package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/botscript/internal/notify"
)

// Notification is a stored notification.
type Notification struct {
	// Seq is the row sequence, ascending in insertion order.
	Seq int64

	// ID is a UUIDv7 assigned on write.
	ID string

	Identifier string

	// ChannelSeq is the per-instance sequence the message was published with.
	ChannelSeq int64

	CreatedAt time.Time

	notify.Message
}

// WriteNotification appends a record and returns its id.
func (s *Store) WriteNotification(ctx context.Context, r notify.Record) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	created := r.Time
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications
		(id, identifier, channel_seq, error, category, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		r.Source,
		r.Seq,
		r.Err,
		r.Category,
		r.Payload,
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("write notification: %w", err)
	}
	return id, nil
}

// ReadNotifications returns the most recent notifications of identifier,
// oldest first. A limit <= 0 returns all of them.
//
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadNotifications(ctx context.Context, identifier string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, identifier, channel_seq, error, category, payload, created_at
		FROM (
			SELECT * FROM notifications
			WHERE identifier = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, identifier, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var (
			n       Notification
			created string
		)
		if err := rows.Scan(&n.Seq, &n.ID, &n.Identifier, &n.ChannelSeq, &n.Err, &n.Category, &n.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// Identifiers returns every identifier with stored notifications or
// configurations, sorted.
func (s *Store) Identifiers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier FROM notifications
		UNION
		SELECT identifier FROM configurations
		ORDER BY identifier COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query identifiers: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers: %w", err)
	}
	return out, nil
}
