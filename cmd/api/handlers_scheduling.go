package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"guardpost/pkg/events"
	"guardpost/pkg/httpx"
	"guardpost/pkg/models"
	"guardpost/pkg/scheduling"
)

type createContractRequest struct {
	Tenant        string    `json:"tenant,omitempty"`
	ClientName    string    `json:"client_name"`
	SiteAddress   string    `json:"site_address"`
	GuardsNeeded  int       `json:"guards_needed"`
	HoursPerWeek  float64   `json:"hours_per_week"`
	ArmedRequired bool      `json:"armed_required"`
	StartsOn      time.Time `json:"starts_on"`
	EndsOn        time.Time `json:"ends_on"`
}

func (s *Server) createContract(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req createContractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ClientName) == "" {
		httpx.Error(w, http.StatusBadRequest, "client_name required")
		return
	}
	if req.GuardsNeeded <= 0 || req.HoursPerWeek <= 0 {
		httpx.Error(w, http.StatusBadRequest, "guards_needed and hours_per_week must be positive")
		return
	}
	if !req.EndsOn.IsZero() && !req.EndsOn.After(req.StartsOn) {
		httpx.Error(w, http.StatusBadRequest, "ends_on must be after starts_on")
		return
	}

	contract := models.Contract{
		ID:            uuid.NewString(),
		Tenant:        tenant,
		ClientName:    req.ClientName,
		SiteAddress:   req.SiteAddress,
		GuardsNeeded:  req.GuardsNeeded,
		HoursPerWeek:  req.HoursPerWeek,
		ArmedRequired: req.ArmedRequired,
		Status:        scheduling.ContractDraft,
		StartsOn:      req.StartsOn,
		EndsOn:        req.EndsOn,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO contracts
		(id, tenant, client_name, site_address, guards_needed, hours_per_week, armed_required,
		 status, starts_on, ends_on, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, contract.ID, contract.Tenant, contract.ClientName, contract.SiteAddress, contract.GuardsNeeded,
		contract.HoursPerWeek, contract.ArmedRequired, contract.Status, contract.StartsOn,
		contract.EndsOn, contract.CreatedAt)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "contract insert failed")
		return
	}

	s.recordAudit(r.Context(), tenant, "contract", contract.ID, "CREATE", s.actor(r), nil, contract)
	httpx.WriteJSON(w, http.StatusCreated, contract)
}

const contractColumns = `id, tenant, client_name, site_address, guards_needed, hours_per_week,
	armed_required, status, starts_on, ends_on, created_at`

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	page := httpx.ParsePage(r, 50, 200)
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE tenant = $1`
	args := []any{tenant}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		args = append(args, status)
		query += ` AND status = $2`
	}
	args = append(args, page.Limit, page.Offset)
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	rows, err := s.DB.Query(r.Context(), query, args...)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "contract query failed")
		return
	}
	defer rows.Close()
	out := []models.Contract{}
	for rows.Next() {
		var c models.Contract
		if err := rows.Scan(&c.ID, &c.Tenant, &c.ClientName, &c.SiteAddress, &c.GuardsNeeded,
			&c.HoursPerWeek, &c.ArmedRequired, &c.Status, &c.StartsOn, &c.EndsOn, &c.CreatedAt); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "contract scan failed")
			return
		}
		out = append(out, c)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"contracts": out, "limit": page.Limit, "offset": page.Offset})
}

func (s *Server) transitionContract(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant string `json:"tenant,omitempty"`
		To     string `json:"to"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	contractID := chi.URLParam(r, "contract_id")
	to := strings.ToUpper(strings.TrimSpace(req.To))

	var from string
	err = s.DB.QueryRow(r.Context(),
		`SELECT status FROM contracts WHERE id = $1 AND tenant = $2`, contractID, tenant).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "contract not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "contract query failed")
		return
	}
	if !scheduling.CanTransitionContract(from, to) {
		httpx.Error(w, http.StatusConflict, scheduling.ErrInvalidContractTransition.Error())
		return
	}
	tag, err := s.DB.Exec(r.Context(),
		`UPDATE contracts SET status = $1 WHERE id = $2 AND tenant = $3 AND status = $4`,
		to, contractID, tenant, from)
	if err != nil || tag.RowsAffected() == 0 {
		httpx.Error(w, http.StatusConflict, "contract moved concurrently")
		return
	}

	s.recordAudit(r.Context(), tenant, "contract", contractID, "TRANSITION", s.actor(r),
		map[string]string{"status": from}, map[string]string{"status": to})
	if to == scheduling.ContractActive {
		s.publishEvent(r.Context(), events.TypeContractActivated, tenant, map[string]any{
			"contract_id": contractID,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"id": contractID, "from": from, "status": to})
}

func (s *Server) contractCoverage(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := parseWindow(r)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	cov, err := s.Scheduling.ContractCoverage(r.Context(), tenant, chi.URLParam(r, "contract_id"), start, end)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		httpx.Error(w, http.StatusNotFound, "contract not found")
		return
	case errors.Is(err, scheduling.ErrBadWindow):
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		httpx.Error(w, http.StatusInternalServerError, "coverage query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cov)
}

type createShiftRequest struct {
	Tenant     string    `json:"tenant,omitempty"`
	ContractID string    `json:"contract_id"`
	GuardID    string    `json:"guard_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Notes      string    `json:"notes,omitempty"`
}

func (s *Server) createShift(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req createShiftRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ContractID) == "" || strings.TrimSpace(req.GuardID) == "" {
		httpx.Error(w, http.StatusBadRequest, "contract_id and guard_id required")
		return
	}
	contractStatus, err := s.contractStatus(r.Context(), tenant, req.ContractID)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "contract not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "contract query failed")
		return
	}
	if contractStatus != scheduling.ContractActive {
		httpx.Error(w, http.StatusConflict, "shifts require an active contract")
		return
	}

	shift, err := s.Scheduling.CreateShift(r.Context(), models.Shift{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		ContractID: req.ContractID,
		GuardID:    req.GuardID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Notes:      req.Notes,
		CreatedAt:  time.Now().UTC(),
	})
	switch {
	case errors.Is(err, scheduling.ErrBadWindow):
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduling.ErrShiftConflict):
		httpx.Error(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		httpx.Error(w, http.StatusInternalServerError, "shift insert failed")
		return
	}

	s.recordAudit(r.Context(), tenant, "shift", shift.ID, "CREATE", s.actor(r), nil, shift)
	s.Metrics.IncShiftStatus(shift.Status)
	s.publishEvent(r.Context(), events.TypeShiftBooked, tenant, map[string]any{
		"shift_id":    shift.ID,
		"contract_id": shift.ContractID,
		"guard_id":    shift.GuardID,
		"start_at":    shift.StartAt,
		"end_at":      shift.EndAt,
	})
	httpx.WriteJSON(w, http.StatusCreated, shift)
}

func (s *Server) contractStatus(ctx context.Context, tenant, contractID string) (string, error) {
	var status string
	err := s.DB.QueryRow(ctx,
		`SELECT status FROM contracts WHERE id = $1 AND tenant = $2`, contractID, tenant).Scan(&status)
	return status, err
}

const shiftColumns = `id, tenant, contract_id, guard_id, start_at, end_at, status, notes, created_at`

func (s *Server) listShifts(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	page := httpx.ParsePage(r, 50, 200)
	query := `SELECT ` + shiftColumns + ` FROM shifts WHERE tenant = $1`
	args := []any{tenant}
	if contractID := strings.TrimSpace(r.URL.Query().Get("contract_id")); contractID != "" {
		args = append(args, contractID)
		query += ` AND contract_id = $2`
	}
	if guardID := strings.TrimSpace(r.URL.Query().Get("guard_id")); guardID != "" {
		args = append(args, guardID)
		query += ` AND guard_id = $` + itoa(len(args))
	}
	args = append(args, page.Limit, page.Offset)
	query += ` ORDER BY start_at DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	rows, err := s.DB.Query(r.Context(), query, args...)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "shift query failed")
		return
	}
	defer rows.Close()
	out := []models.Shift{}
	for rows.Next() {
		var sh models.Shift
		if err := rows.Scan(&sh.ID, &sh.Tenant, &sh.ContractID, &sh.GuardID, &sh.StartAt, &sh.EndAt,
			&sh.Status, &sh.Notes, &sh.CreatedAt); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "shift scan failed")
			return
		}
		out = append(out, sh)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shifts": out, "limit": page.Limit, "offset": page.Offset})
}

func (s *Server) transitionShift(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant string `json:"tenant,omitempty"`
		To     string `json:"to"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	shiftID := chi.URLParam(r, "shift_id")
	to := strings.ToUpper(strings.TrimSpace(req.To))

	status, err := s.Scheduling.TransitionShift(r.Context(), tenant, shiftID, to)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		httpx.Error(w, http.StatusNotFound, "shift not found")
		return
	case errors.Is(err, scheduling.ErrInvalidShiftTransition):
		httpx.Error(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		httpx.Error(w, http.StatusInternalServerError, "shift update failed")
		return
	}

	s.recordAudit(r.Context(), tenant, "shift", shiftID, "TRANSITION", s.actor(r), nil,
		map[string]string{"status": status})
	s.Metrics.IncShiftStatus(status)
	s.publishEvent(r.Context(), events.TypeShiftTransitioned, tenant, map[string]any{
		"shift_id": shiftID,
		"status":   status,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"id": shiftID, "status": status})
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	rawStart := strings.TrimSpace(r.URL.Query().Get("start"))
	rawEnd := strings.TrimSpace(r.URL.Query().Get("end"))
	if rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, errors.New("start and end query parameters required")
	}
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("start must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("end must be RFC3339")
	}
	return start, end, nil
}
