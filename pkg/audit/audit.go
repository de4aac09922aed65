// Package audit records entity changes for compliance review. Every write to
// a lead, application, contract, or shift appends an immutable record with
// the actor, the action, and before/after snapshots. Snapshots pass through
// PII redaction before they reach the database when redaction is enabled.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

type Record struct {
	ID             string
	Tenant         string
	EntityType     string
	EntityID       string
	Action         string
	ActorHash      string
	Before         json.RawMessage
	After          json.RawMessage
	SnapshotDigest string
	CreatedAt      time.Time
}

// Append stores one change record. The actor identifier is hashed with the
// writer's salt so the trail never carries raw user IDs, and the stored
// snapshots get a canonical digest for tamper checks.
func (w *Writer) Append(ctx context.Context, rec Record, actorID string) error {
	rec.ActorHash = hashString(actorID, w.HashSalt)
	if w.Redact {
		rec.Before = redactSnapshot(rec.Before, w.HashSalt)
		rec.After = redactSnapshot(rec.After, w.HashSalt)
	}
	digest, err := SnapshotDigest(rec.Before, rec.After)
	if err != nil {
		return err
	}
	rec.SnapshotDigest = digest
	_, err = w.DB.Exec(ctx, `
		INSERT INTO audit_records
		(id, tenant, entity_type, entity_id, action, actor_hash, before_state, after_state, snapshot_digest, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.Tenant, rec.EntityType, rec.EntityID, rec.Action, rec.ActorHash, rec.Before, rec.After, rec.SnapshotDigest, rec.CreatedAt)
	return err
}

// Get fetches a single record. An empty tenant performs a cross-tenant
// lookup for compliance admins.
func (w *Writer) Get(ctx context.Context, id, tenant string) (Record, error) {
	var row pgx.Row
	if tenant != "" {
		row = w.DB.QueryRow(ctx, `
			SELECT id, tenant, entity_type, entity_id, action, actor_hash, before_state, after_state, snapshot_digest, created_at
			FROM audit_records WHERE tenant=$1 AND id=$2
		`, tenant, id)
	} else {
		row = w.DB.QueryRow(ctx, `
			SELECT id, tenant, entity_type, entity_id, action, actor_hash, before_state, after_state, snapshot_digest, created_at
			FROM audit_records WHERE id=$1
		`, id)
	}
	var rec Record
	if err := row.Scan(&rec.ID, &rec.Tenant, &rec.EntityType, &rec.EntityID, &rec.Action, &rec.ActorHash, &rec.Before, &rec.After, &rec.SnapshotDigest, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Trail lists the records for one entity, newest first.
func (w *Writer) Trail(ctx context.Context, tenant, entityType, entityID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.Query(ctx, `
		SELECT id, tenant, entity_type, entity_id, action, actor_hash, before_state, after_state, snapshot_digest, created_at
		FROM audit_records
		WHERE tenant=$1 AND entity_type=$2 AND entity_id=$3
		ORDER BY created_at DESC LIMIT $4
	`, tenant, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Tenant, &rec.EntityType, &rec.EntityID, &rec.Action, &rec.ActorHash, &rec.Before, &rec.After, &rec.SnapshotDigest, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes records past the retention horizon and returns the
// number removed.
func (w *Writer) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := w.DB.Exec(ctx, `DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
