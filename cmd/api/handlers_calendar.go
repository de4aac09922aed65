package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"guardpost/pkg/calendar"
	"guardpost/pkg/httpx"
	"guardpost/pkg/models"
)

// connectCalendar starts the OAuth flow by handing the client a provider
// authorization URL tied to a random state.
func (s *Server) connectCalendar(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"provider": s.Calendar.Config.Provider,
		"auth_url": s.Calendar.AuthURL(state),
		"state":    state,
	})
}

func (s *Server) calendarCallback(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant string `json:"tenant,omitempty"`
		Code   string `json:"code"`
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
	if strings.TrimSpace(req.Code) == "" {
		httpx.Error(w, http.StatusBadRequest, "code required")
		return
	}
	account, err := s.Calendar.Exchange(r.Context(), tenant, s.actor(r), req.Code)
	if errors.Is(err, calendar.ErrUnauthorized) {
		httpx.Error(w, http.StatusUnauthorized, "provider rejected authorization code")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	s.recordAudit(r.Context(), tenant, "calendar_account", account.ID, "LINK", s.actor(r), nil,
		map[string]string{"provider": account.Provider})
	httpx.WriteJSON(w, http.StatusOK, account)
}

func (s *Server) unlinkCalendar(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Calendar.Unlink(r.Context(), tenant, s.actor(r)); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "unlink failed")
		return
	}
	s.recordAudit(r.Context(), tenant, "calendar_account", s.actor(r), "UNLINK", s.actor(r), nil, nil)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

// syncShiftToCalendar pushes one shift to the guard's linked calendar. The
// guard, not the dispatcher, owns the calendar link.
func (s *Server) syncShiftToCalendar(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant  string `json:"tenant,omitempty"`
		ShiftID string `json:"shift_id"`
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
	if strings.TrimSpace(req.ShiftID) == "" {
		httpx.Error(w, http.StatusBadRequest, "shift_id required")
		return
	}

	var shift models.Shift
	err = s.DB.QueryRow(r.Context(),
		`SELECT `+shiftColumns+` FROM shifts WHERE id = $1 AND tenant = $2`, req.ShiftID, tenant).
		Scan(&shift.ID, &shift.Tenant, &shift.ContractID, &shift.GuardID, &shift.StartAt,
			&shift.EndAt, &shift.Status, &shift.Notes, &shift.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "shift not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "shift query failed")
		return
	}

	err = s.Calendar.PushShift(r.Context(), tenant, shift.GuardID, shift)
	switch {
	case errors.Is(err, calendar.ErrNotLinked):
		httpx.Error(w, http.StatusConflict, "guard has no linked calendar")
		return
	case errors.Is(err, calendar.ErrUnauthorized):
		httpx.Error(w, http.StatusUnauthorized, "calendar link expired, relink required")
		return
	case err != nil:
		httpx.Error(w, http.StatusBadGateway, "calendar push failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"shift_id": shift.ID,
		"guard_id": shift.GuardID,
		"status":   "synced",
	})
}
