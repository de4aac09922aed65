package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guardpost/pkg/models"
)

type pipelineDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns application rows and their Kanban history.
type Store struct {
	DB pipelineDB
}

// Move applies a validated stage transition with optimistic concurrency. The
// caller supplies the revision it last saw; a stale revision returns
// ErrRevisionConflict so the client can refresh its board.
func (s *Store) Move(ctx context.Context, tenant, appID, toStage, movedBy, note string, expectedRevision int64) (models.StageMove, error) {
	var fromStage string
	var revision int64
	err := s.DB.QueryRow(ctx, `
		SELECT stage, revision FROM applications WHERE tenant=$1 AND id=$2
	`, tenant, appID).Scan(&fromStage, &revision)
	if err != nil {
		return models.StageMove{}, err
	}
	if revision != expectedRevision {
		return models.StageMove{}, ErrRevisionConflict
	}
	if !CanMove(fromStage, toStage) {
		return models.StageMove{}, ErrInvalidMove
	}
	now := time.Now().UTC()
	tag, err := s.DB.Exec(ctx, `
		UPDATE applications SET stage=$1, revision=revision+1, updated_at=$2
		WHERE tenant=$3 AND id=$4 AND revision=$5
	`, toStage, now, tenant, appID, expectedRevision)
	if err != nil {
		return models.StageMove{}, err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race between read and update.
		return models.StageMove{}, ErrRevisionConflict
	}
	move := models.StageMove{
		ApplicationID: appID,
		FromStage:     fromStage,
		ToStage:       toStage,
		MovedBy:       movedBy,
		Note:          note,
		MovedAt:       now,
	}
	if _, err := s.DB.Exec(ctx, `
		INSERT INTO application_stage_moves (tenant, application_id, from_stage, to_stage, moved_by, note, moved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tenant, appID, fromStage, toStage, movedBy, note, now); err != nil {
		return models.StageMove{}, fmt.Errorf("record stage move: %w", err)
	}
	return move, nil
}

// History returns the move log for one application, oldest first.
func (s *Store) History(ctx context.Context, tenant, appID string) ([]models.StageMove, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT application_id, from_stage, to_stage, moved_by, COALESCE(note,''), moved_at
		FROM application_stage_moves
		WHERE tenant=$1 AND application_id=$2
		ORDER BY moved_at ASC
	`, tenant, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.StageMove
	for rows.Next() {
		var m models.StageMove
		if err := rows.Scan(&m.ApplicationID, &m.FromStage, &m.ToStage, &m.MovedBy, &m.Note, &m.MovedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Board groups a tenant's applications by stage in column order.
func (s *Store) Board(ctx context.Context, tenant string) (map[string][]models.Application, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant, candidate_name, position, stage, revision, created_at, updated_at
		FROM applications WHERE tenant=$1
		ORDER BY updated_at DESC
	`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	board := make(map[string][]models.Application, len(Stages))
	for _, stage := range Stages {
		board[stage] = []models.Application{}
	}
	for rows.Next() {
		var a models.Application
		if err := rows.Scan(&a.ID, &a.Tenant, &a.CandidateName, &a.Position, &a.Stage, &a.Revision, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		board[a.Stage] = append(board[a.Stage], a)
	}
	return board, rows.Err()
}

// Get loads one application without decrypting contact fields; callers that
// need PII go through the api layer's codec.
func (s *Store) Get(ctx context.Context, tenant, appID string) (models.Application, error) {
	var a models.Application
	err := s.DB.QueryRow(ctx, `
		SELECT id, tenant, candidate_name, COALESCE(email,''), COALESCE(phone,''), position,
		       COALESCE(license_number,''), COALESCE(license_expiry,''), stage, revision, created_at, updated_at
		FROM applications WHERE tenant=$1 AND id=$2
	`, tenant, appID).Scan(&a.ID, &a.Tenant, &a.CandidateName, &a.Email, &a.Phone, &a.Position,
		&a.LicenseNumber, &a.LicenseExpiry, &a.Stage, &a.Revision, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, err
	}
	return a, err
}
