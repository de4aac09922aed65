package main

import (
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
	"guardpost/pkg/pipeline"
)

func (s *Server) pipelineBoard(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	board, err := s.Pipeline.Board(r.Context(), tenant)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "board query failed")
		return
	}
	for stage, apps := range board {
		for i, app := range apps {
			if apps[i], err = s.openApplicationContact(app); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "pii open failed")
				return
			}
		}
		board[stage] = apps
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"stages":  pipeline.Stages,
		"board":   board,
		"viewers": s.Presence.Viewers(boardKey(tenant)),
	})
}

type createApplicationRequest struct {
	Tenant        string `json:"tenant,omitempty"`
	CandidateName string `json:"candidate_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Position      string `json:"position"`
	LicenseNumber string `json:"license_number"`
	LicenseExpiry string `json:"license_expiry"`
}

func (s *Server) createApplication(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req createApplicationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.CandidateName) == "" || strings.TrimSpace(req.Position) == "" {
		httpx.Error(w, http.StatusBadRequest, "candidate_name and position required")
		return
	}
	if req.Email != "" {
		restricted, err := s.isSubjectRestricted(r.Context(), tenant, req.Email)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "restriction check failed")
			return
		}
		if restricted {
			httpx.Error(w, http.StatusForbidden, "subject restricted from processing")
			return
		}
	}

	now := time.Now().UTC()
	app := models.Application{
		ID:            uuid.NewString(),
		Tenant:        tenant,
		CandidateName: req.CandidateName,
		Email:         req.Email,
		Phone:         req.Phone,
		Position:      req.Position,
		LicenseNumber: req.LicenseNumber,
		LicenseExpiry: req.LicenseExpiry,
		Stage:         pipeline.StageApplied,
		Revision:      1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sealed, err := s.sealApplicationContact(app)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "pii seal failed")
		return
	}
	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO applications
		(id, tenant, candidate_name, email, email_hash, phone, position, license_number,
		 license_expiry, stage, revision, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sealed.ID, sealed.Tenant, sealed.CandidateName, sealed.Email, subjectHash(req.Email),
		sealed.Phone, sealed.Position, sealed.LicenseNumber, sealed.LicenseExpiry, sealed.Stage,
		sealed.Revision, sealed.CreatedAt, sealed.UpdatedAt)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "application insert failed")
		return
	}

	s.recordAudit(r.Context(), tenant, "application", app.ID, "CREATE", s.actor(r), nil, app)
	s.Metrics.IncStageMove(app.Stage)
	s.publishEvent(r.Context(), events.TypeApplicationMoved, tenant, map[string]any{
		"application_id": app.ID,
		"from":           "",
		"to":             app.Stage,
		"moved_by":       s.actor(r),
	})
	httpx.WriteJSON(w, http.StatusCreated, app)
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	app, err := s.Pipeline.Get(r.Context(), tenant, chi.URLParam(r, "application_id"))
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "application query failed")
		return
	}
	if app, err = s.openApplicationContact(app); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "pii open failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, app)
}

type moveApplicationRequest struct {
	Tenant   string `json:"tenant,omitempty"`
	To       string `json:"to"`
	Note     string `json:"note,omitempty"`
	Revision int64  `json:"revision"`
}

func (s *Server) moveApplication(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req moveApplicationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	appID := chi.URLParam(r, "application_id")
	move, err := s.Pipeline.Move(r.Context(), tenant, appID, strings.ToUpper(req.To), s.actor(r), req.Note, req.Revision)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		httpx.Error(w, http.StatusNotFound, "application not found")
		return
	case errors.Is(err, pipeline.ErrInvalidMove):
		httpx.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, pipeline.ErrRevisionConflict):
		httpx.Error(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		httpx.Error(w, http.StatusInternalServerError, "move failed")
		return
	}

	s.recordAudit(r.Context(), tenant, "application", appID, "MOVE", s.actor(r),
		map[string]string{"stage": move.FromStage}, map[string]string{"stage": move.ToStage})
	s.Metrics.IncStageMove(move.ToStage)
	s.publishEvent(r.Context(), events.TypeApplicationMoved, tenant, map[string]any{
		"application_id": appID,
		"from":           move.FromStage,
		"to":             move.ToStage,
		"moved_by":       move.MovedBy,
	})
	httpx.WriteJSON(w, http.StatusOK, move)
}

func (s *Server) applicationHistory(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.Pipeline.History(r.Context(), tenant, chi.URLParam(r, "application_id"))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "history query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"moves": history})
}

func (s *Server) sealApplicationContact(app models.Application) (models.Application, error) {
	var err error
	if app.Email, err = s.PII.Encrypt(app.Email); err != nil {
		return models.Application{}, err
	}
	if app.Phone, err = s.PII.Encrypt(app.Phone); err != nil {
		return models.Application{}, err
	}
	return app, nil
}

func (s *Server) openApplicationContact(app models.Application) (models.Application, error) {
	var err error
	if app.Email, err = s.PII.Decrypt(app.Email); err != nil {
		return models.Application{}, err
	}
	if app.Phone, err = s.PII.Decrypt(app.Phone); err != nil {
		return models.Application{}, err
	}
	return app, nil
}

func boardKey(tenant string) string {
	return "pipeline:" + tenant
}
