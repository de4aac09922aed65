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

	"guardpost/pkg/abtest"
	"guardpost/pkg/events"
	"guardpost/pkg/httpx"
	"guardpost/pkg/models"
)

type createExperimentRequest struct {
	Tenant   string           `json:"tenant,omitempty"`
	Key      string           `json:"key"`
	Variants []models.Variant `json:"variants"`
	Alpha    float64          `json:"alpha,omitempty"`
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req createExperimentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		httpx.Error(w, http.StatusBadRequest, "key required")
		return
	}
	if err := abtest.ValidateVariants(req.Variants); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	alpha := req.Alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = abtest.DefaultAlpha
	}

	exp := models.Experiment{
		ID:        uuid.NewString(),
		Tenant:    tenant,
		Key:       req.Key,
		Status:    abtest.StatusDraft,
		Variants:  req.Variants,
		Alpha:     alpha,
		CreatedAt: time.Now().UTC(),
	}
	variantsJSON, err := json.Marshal(exp.Variants)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "variant encode failed")
		return
	}
	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO experiments (id, tenant, key, status, variants, alpha, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, exp.ID, exp.Tenant, exp.Key, exp.Status, variantsJSON, exp.Alpha, exp.CreatedAt)
	if err != nil {
		httpx.Error(w, http.StatusConflict, "experiment key already exists")
		return
	}

	s.recordAudit(r.Context(), tenant, "experiment", exp.ID, "CREATE", s.actor(r), nil, exp)
	httpx.WriteJSON(w, http.StatusCreated, exp)
}

func (s *Server) listExperiments(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.DB.Query(r.Context(), `
		SELECT id, tenant, key, status, variants, alpha, created_at
		FROM experiments WHERE tenant = $1 ORDER BY created_at DESC
	`, tenant)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "experiment query failed")
		return
	}
	defer rows.Close()
	out := []models.Experiment{}
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "experiment scan failed")
			return
		}
		out = append(out, exp)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"experiments": out})
}

// canTransitionExperiment is the experiment lifecycle: a draft starts running,
// a running test can pause or complete, a paused test resumes or completes.
func canTransitionExperiment(from, to string) bool {
	switch from {
	case abtest.StatusDraft:
		return to == abtest.StatusRunning
	case abtest.StatusRunning:
		return to == abtest.StatusPaused || to == abtest.StatusCompleted
	case abtest.StatusPaused:
		return to == abtest.StatusRunning || to == abtest.StatusCompleted
	default:
		return false
	}
}

func (s *Server) transitionExperiment(w http.ResponseWriter, r *http.Request) {
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
	key := chi.URLParam(r, "key")
	to := strings.ToUpper(strings.TrimSpace(req.To))

	exp, err := s.fetchExperiment(r.Context(), tenant, key)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "experiment not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "experiment query failed")
		return
	}
	if !canTransitionExperiment(exp.Status, to) {
		httpx.Error(w, http.StatusConflict, "invalid experiment transition")
		return
	}
	tag, err := s.DB.Exec(r.Context(),
		`UPDATE experiments SET status = $1 WHERE tenant = $2 AND key = $3 AND status = $4`,
		to, tenant, key, exp.Status)
	if err != nil || tag.RowsAffected() == 0 {
		httpx.Error(w, http.StatusConflict, "experiment moved concurrently")
		return
	}

	s.recordAudit(r.Context(), tenant, "experiment", exp.ID, "TRANSITION", s.actor(r),
		map[string]string{"status": exp.Status}, map[string]string{"status": to})
	if to == abtest.StatusCompleted {
		s.publishEvent(r.Context(), events.TypeExperimentComplete, tenant, map[string]any{
			"experiment_key": key,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"key": key, "from": exp.Status, "status": to})
}

func (s *Server) assignVariant(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant  string `json:"tenant,omitempty"`
		Subject string `json:"subject"`
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
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		httpx.Error(w, http.StatusBadRequest, "subject required")
		return
	}
	key := chi.URLParam(r, "key")

	exp, err := s.fetchExperiment(r.Context(), tenant, key)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "experiment not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "experiment query failed")
		return
	}
	variant, err := abtest.Assign(exp, req.Subject)
	if errors.Is(err, abtest.ErrNotRunning) {
		httpx.Error(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "assignment failed")
		return
	}
	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO experiment_assignments (tenant, experiment_key, subject, variant, exposures, conversions, assigned_at)
		VALUES ($1,$2,$3,$4,1,0,$5)
		ON CONFLICT (tenant, experiment_key, subject)
		DO UPDATE SET exposures = experiment_assignments.exposures + 1
	`, tenant, key, req.Subject, variant, time.Now().UTC())
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "assignment insert failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"experiment_key": key,
		"subject":        req.Subject,
		"variant":        variant,
	})
}

func (s *Server) recordConversion(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant  string `json:"tenant,omitempty"`
		Subject string `json:"subject"`
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
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		httpx.Error(w, http.StatusBadRequest, "subject required")
		return
	}
	key := chi.URLParam(r, "key")

	tag, err := s.DB.Exec(r.Context(), `
		UPDATE experiment_assignments SET conversions = conversions + 1
		WHERE tenant = $1 AND experiment_key = $2 AND subject = $3
	`, tenant, key, req.Subject)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "conversion update failed")
		return
	}
	if tag.RowsAffected() == 0 {
		httpx.Error(w, http.StatusNotFound, "subject not assigned to experiment")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"experiment_key": key,
		"subject":        req.Subject,
		"status":         "converted",
	})
}

func (s *Server) experimentResults(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "key")
	exp, err := s.fetchExperiment(r.Context(), tenant, key)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "experiment not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "experiment query failed")
		return
	}

	// One assignment row per subject. Subjects are the Bernoulli trials the
	// z-test needs, so repeat exposures of the same subject must not inflate n.
	rows, err := s.DB.Query(r.Context(), `
		SELECT variant, COUNT(*), SUM(CASE WHEN conversions > 0 THEN 1 ELSE 0 END)
		FROM experiment_assignments
		WHERE tenant = $1 AND experiment_key = $2
		GROUP BY variant
	`, tenant, key)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "results query failed")
		return
	}
	defer rows.Close()
	observed := map[string]abtest.Arm{}
	for rows.Next() {
		var arm abtest.Arm
		if err := rows.Scan(&arm.Variant, &arm.Exposures, &arm.Conversions); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "results scan failed")
			return
		}
		observed[arm.Variant] = arm
	}

	// control is always the first declared variant
	arms := make([]abtest.Arm, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		arm, ok := observed[v.Name]
		if !ok {
			arm = abtest.Arm{Variant: v.Name}
		}
		arms = append(arms, arm)
	}
	results, err := abtest.Evaluate(arms, exp.Alpha)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"experiment_key": key,
		"status":         exp.Status,
		"results":        results,
	})
}

func (s *Server) fetchExperiment(ctx context.Context, tenant, key string) (models.Experiment, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant, key, status, variants, alpha, created_at
		FROM experiments WHERE tenant = $1 AND key = $2
	`, tenant, key)
	return scanExperiment(row)
}

func scanExperiment(row leadScanner) (models.Experiment, error) {
	var exp models.Experiment
	var variantsJSON []byte
	if err := row.Scan(&exp.ID, &exp.Tenant, &exp.Key, &exp.Status, &variantsJSON, &exp.Alpha, &exp.CreatedAt); err != nil {
		return models.Experiment{}, err
	}
	if err := json.Unmarshal(variantsJSON, &exp.Variants); err != nil {
		return models.Experiment{}, err
	}
	return exp, nil
}
