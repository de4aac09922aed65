// Package notify persists in-app notifications. The notifier service writes
// them as it consumes domain events; the API serves and marks them read.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guardpost/pkg/events"
	"guardpost/pkg/models"
)

type notifyDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	DB notifyDB
}

// Create persists a notification, minting an ID when the caller left it
// empty.
func (s *Store) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO notifications (id, tenant, recipient, kind, payload, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, n.ID, n.Tenant, n.Recipient, n.Kind, n.Payload, n.Read, n.CreatedAt)
	if err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

// List returns a recipient's notifications, newest first. unreadOnly narrows
// to those not yet read.
func (s *Store) List(ctx context.Context, tenant, recipient string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, tenant, recipient, kind, payload, read, created_at
		FROM notifications
		WHERE tenant=$1 AND recipient=$2
	`
	if unreadOnly {
		q += ` AND read = FALSE`
	}
	q += ` ORDER BY created_at DESC LIMIT $3`
	rows, err := s.DB.Query(ctx, q, tenant, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Tenant, &n.Recipient, &n.Kind, &n.Payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags notifications as read and returns how many changed.
func (s *Store) MarkRead(ctx context.Context, tenant, recipient string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE tenant=$1 AND recipient=$2 AND id = ANY($3) AND read = FALSE
	`, tenant, recipient, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FromEnvelope maps a domain event to the notification it should produce.
// Events that carry no recipient produce nothing.
func FromEnvelope(env events.Envelope) (models.Notification, bool, error) {
	var data struct {
		AssignedTo string `json:"assigned_to"`
		GuardID    string `json:"guard_id"`
		MovedBy    string `json:"moved_by"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return models.Notification{}, false, fmt.Errorf("decode event data: %w", err)
		}
	}
	var recipient string
	switch env.Type {
	case events.TypeLeadAssigned:
		recipient = data.AssignedTo
	case events.TypeShiftBooked, events.TypeShiftTransitioned:
		recipient = data.GuardID
	case events.TypeApplicationMoved:
		recipient = data.MovedBy
	default:
		return models.Notification{}, false, nil
	}
	if recipient == "" {
		return models.Notification{}, false, nil
	}
	return models.Notification{
		Tenant:    env.Tenant,
		Recipient: recipient,
		Kind:      env.Type,
		Payload:   env.Data,
		CreatedAt: env.At,
	}, true, nil
}
