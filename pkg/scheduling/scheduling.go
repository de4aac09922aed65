// Package scheduling manages contracts and guard shifts: status transitions,
// double-booking checks, and contract coverage reporting.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guardpost/pkg/models"
)

var (
	ErrShiftConflict = errors.New("guard already booked for an overlapping shift")
	ErrBadWindow     = errors.New("shift end must be after start")
)

type schedulingDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns contract and shift rows.
type Store struct {
	DB schedulingDB
}

// Overlaps reports whether two half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Back-to-back shifts (aEnd == bStart) do not
// conflict.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// CreateShift books a guard after checking the window and double-booking.
// Cancelled and missed shifts do not block rebooking.
func (s *Store) CreateShift(ctx context.Context, shift models.Shift) (models.Shift, error) {
	if !shift.EndAt.After(shift.StartAt) {
		return models.Shift{}, ErrBadWindow
	}
	var conflicts int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM shifts
		WHERE tenant=$1 AND guard_id=$2
		  AND status NOT IN ('CANCELLED','MISSED')
		  AND start_at < $4 AND $3 < end_at
	`, shift.Tenant, shift.GuardID, shift.StartAt, shift.EndAt).Scan(&conflicts)
	if err != nil {
		return models.Shift{}, fmt.Errorf("conflict check: %w", err)
	}
	if conflicts > 0 {
		return models.Shift{}, ErrShiftConflict
	}
	shift.Status = ShiftScheduled
	shift.CreatedAt = time.Now().UTC()
	_, err = s.DB.Exec(ctx, `
		INSERT INTO shifts (id, tenant, contract_id, guard_id, start_at, end_at, status, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shift.ID, shift.Tenant, shift.ContractID, shift.GuardID, shift.StartAt, shift.EndAt, shift.Status, shift.Notes, shift.CreatedAt)
	if err != nil {
		return models.Shift{}, err
	}
	return shift, nil
}

// TransitionShift moves a shift through its lifecycle.
func (s *Store) TransitionShift(ctx context.Context, tenant, shiftID, to string) (string, error) {
	var from string
	if err := s.DB.QueryRow(ctx, `
		SELECT status FROM shifts WHERE tenant=$1 AND id=$2
	`, tenant, shiftID).Scan(&from); err != nil {
		return "", err
	}
	if !CanTransitionShift(from, to) {
		return from, ErrInvalidShiftTransition
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE shifts SET status=$1 WHERE tenant=$2 AND id=$3 AND status=$4
	`, to, tenant, shiftID, from)
	if err != nil {
		return from, err
	}
	if tag.RowsAffected() == 0 {
		return from, ErrInvalidShiftTransition
	}
	return to, nil
}

// Coverage compares scheduled hours against a contract's requirement over a
// window.
type Coverage struct {
	ContractID     string  `json:"contract_id"`
	WindowStart    string  `json:"window_start"`
	WindowEnd      string  `json:"window_end"`
	RequiredHours  float64 `json:"required_hours"`
	ScheduledHours float64 `json:"scheduled_hours"`
	CoveragePct    float64 `json:"coverage_pct"`
	ShiftCount     int     `json:"shift_count"`
}

// ContractCoverage totals non-cancelled shift hours for the contract inside
// [start, end) and compares them to the pro-rated hours-per-week requirement.
func (s *Store) ContractCoverage(ctx context.Context, tenant, contractID string, start, end time.Time) (Coverage, error) {
	if !end.After(start) {
		return Coverage{}, ErrBadWindow
	}
	var hoursPerWeek float64
	if err := s.DB.QueryRow(ctx, `
		SELECT hours_per_week FROM contracts WHERE tenant=$1 AND id=$2
	`, tenant, contractID).Scan(&hoursPerWeek); err != nil {
		return Coverage{}, err
	}
	rows, err := s.DB.Query(ctx, `
		SELECT start_at, end_at FROM shifts
		WHERE tenant=$1 AND contract_id=$2
		  AND status NOT IN ('CANCELLED','MISSED')
		  AND start_at < $4 AND $3 < end_at
	`, tenant, contractID, start, end)
	if err != nil {
		return Coverage{}, err
	}
	defer rows.Close()
	cov := Coverage{
		ContractID:  contractID,
		WindowStart: start.UTC().Format(time.RFC3339),
		WindowEnd:   end.UTC().Format(time.RFC3339),
	}
	for rows.Next() {
		var shiftStart, shiftEnd time.Time
		if err := rows.Scan(&shiftStart, &shiftEnd); err != nil {
			return Coverage{}, err
		}
		cov.ShiftCount++
		cov.ScheduledHours += clampedHours(shiftStart, shiftEnd, start, end)
	}
	if err := rows.Err(); err != nil {
		return Coverage{}, err
	}
	cov.RequiredHours = hoursPerWeek * end.Sub(start).Hours() / (7 * 24)
	if cov.RequiredHours > 0 {
		cov.CoveragePct = cov.ScheduledHours / cov.RequiredHours * 100
	}
	return cov, nil
}

// clampedHours counts only the part of a shift inside the report window.
func clampedHours(shiftStart, shiftEnd, windowStart, windowEnd time.Time) float64 {
	if shiftStart.Before(windowStart) {
		shiftStart = windowStart
	}
	if shiftEnd.After(windowEnd) {
		shiftEnd = windowEnd
	}
	if !shiftEnd.After(shiftStart) {
		return 0
	}
	return shiftEnd.Sub(shiftStart).Hours()
}
