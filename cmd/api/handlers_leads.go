package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"guardpost/pkg/audit"
	"guardpost/pkg/events"
	"guardpost/pkg/httpx"
	"guardpost/pkg/leads"
	"guardpost/pkg/models"
	"guardpost/pkg/stream"
)

type createLeadRequest struct {
	Tenant         string  `json:"tenant,omitempty"`
	CompanyName    string  `json:"company_name"`
	ContactName    string  `json:"contact_name"`
	ContactEmail   string  `json:"contact_email"`
	ContactPhone   string  `json:"contact_phone"`
	Source         string  `json:"source"`
	ServiceType    string  `json:"service_type"`
	SiteCount      int     `json:"site_count"`
	BudgetMonthly  float64 `json:"budget_monthly"`
	StartWithin    int     `json:"start_within_days"`
	Region         string  `json:"region"`
	AssignStrategy string  `json:"assign_strategy,omitempty"`
}

func (s *Server) createLead(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req createLeadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" || strings.TrimSpace(req.ContactName) == "" {
		httpx.Error(w, http.StatusBadRequest, "company_name and contact_name required")
		return
	}
	if req.ContactEmail != "" {
		restricted, err := s.isSubjectRestricted(r.Context(), tenant, req.ContactEmail)
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
	lead := models.Lead{
		ID:            uuid.NewString(),
		Tenant:        tenant,
		CompanyName:   req.CompanyName,
		ContactName:   req.ContactName,
		ContactEmail:  req.ContactEmail,
		ContactPhone:  req.ContactPhone,
		Source:        req.Source,
		ServiceType:   req.ServiceType,
		SiteCount:     req.SiteCount,
		BudgetMonthly: req.BudgetMonthly,
		StartWithin:   req.StartWithin,
		Region:        req.Region,
		Status:        leads.StatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	scoreStart := time.Now()
	breakdown := s.Scorer.Score(lead)
	s.Metrics.ObserveScoreLatency(time.Since(scoreStart))
	lead.Score = breakdown.Score
	lead.ScoreBand = breakdown.Band

	sealed, err := s.sealLeadContact(lead)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "pii seal failed")
		return
	}
	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO leads
		(id, tenant, company_name, contact_name, contact_email, contact_email_hash, contact_phone,
		 source, service_type, site_count, budget_monthly, start_within_days, region, status, score,
		 score_band, assigned_to, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, sealed.ID, sealed.Tenant, sealed.CompanyName, sealed.ContactName, sealed.ContactEmail,
		subjectHash(req.ContactEmail), sealed.ContactPhone, sealed.Source, sealed.ServiceType,
		sealed.SiteCount, sealed.BudgetMonthly, sealed.StartWithin, sealed.Region, sealed.Status,
		sealed.Score, sealed.ScoreBand, sealed.AssignedTo, sealed.CreatedAt, sealed.UpdatedAt)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead insert failed")
		return
	}

	if req.AssignStrategy != "" {
		if assigned, err := s.autoAssign(r.Context(), &lead, req.AssignStrategy); err != nil {
			if !errors.Is(err, leads.ErrNoReps) {
				httpx.Error(w, http.StatusInternalServerError, "assignment failed")
				return
			}
		} else {
			s.Metrics.IncAssignment(assigned.Strategy)
		}
	}

	s.recordAudit(r.Context(), tenant, "lead", lead.ID, "CREATE", s.actor(r), nil, lead)
	s.Metrics.IncLeadStatus(lead.Status)
	s.Metrics.IncLeadBand(lead.ScoreBand)
	s.publishEvent(r.Context(), events.TypeLeadCreated, tenant, map[string]any{
		"lead_id":     lead.ID,
		"score":       lead.Score,
		"band":        lead.ScoreBand,
		"assigned_to": lead.AssignedTo,
	})
	httpx.WriteJSON(w, http.StatusCreated, lead)
}

func (s *Server) autoAssign(ctx context.Context, lead *models.Lead, strategy string) (leads.Assignment, error) {
	roster, err := s.salesRoster(ctx, lead.Tenant)
	if err != nil {
		return leads.Assignment{}, err
	}
	assigned, err := s.Assigner.Assign(ctx, lead.Tenant, strategy, roster)
	if err != nil {
		return leads.Assignment{}, err
	}
	_, err = s.DB.Exec(ctx,
		`UPDATE leads SET assigned_to = $1, updated_at = $2 WHERE id = $3 AND tenant = $4`,
		assigned.RepID, time.Now().UTC(), lead.ID, lead.Tenant)
	if err != nil {
		return leads.Assignment{}, err
	}
	lead.AssignedTo = assigned.RepID
	return assigned, nil
}

func (s *Server) salesRoster(ctx context.Context, tenant string) ([]string, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT rep_id FROM sales_reps WHERE tenant = $1 AND active ORDER BY rep_id`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roster []string
	for rows.Next() {
		var rep string
		if err := rows.Scan(&rep); err != nil {
			return nil, err
		}
		roster = append(roster, rep)
	}
	return roster, rows.Err()
}

const leadColumns = `id, tenant, company_name, contact_name, contact_email, contact_phone, source,
	service_type, site_count, budget_monthly, start_within_days, region, status, score, score_band,
	assigned_to, created_at, updated_at`

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	page := httpx.ParsePage(r, 50, 200)
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant = $1`
	args := []any{tenant}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		args = append(args, status)
		query += ` AND status = $2`
	}
	if band := strings.TrimSpace(r.URL.Query().Get("band")); band != "" {
		args = append(args, band)
		query += ` AND score_band = $` + itoa(len(args))
	}
	args = append(args, page.Limit, page.Offset)
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	rows, err := s.DB.Query(r.Context(), query, args...)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead query failed")
		return
	}
	defer rows.Close()
	out := []models.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "lead scan failed")
			return
		}
		if lead, err = s.openLeadContact(lead); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "pii open failed")
			return
		}
		out = append(out, lead)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"leads": out, "limit": page.Limit, "offset": page.Offset})
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	lead, err := s.fetchLead(r.Context(), tenant, chi.URLParam(r, "lead_id"))
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, lead)
}

func (s *Server) transitionLead(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant string `json:"tenant,omitempty"`
		To     string `json:"to"`
		Event  string `json:"event,omitempty"`
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
	leadID := chi.URLParam(r, "lead_id")
	lead, err := s.fetchLead(r.Context(), tenant, leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead query failed")
		return
	}

	var next string
	if req.Event != "" {
		next, err = leads.Next(lead.Status, leads.Event(strings.ToUpper(req.Event)))
	} else {
		next, err = leads.Transition(lead.Status, strings.ToUpper(req.To))
	}
	if err != nil {
		httpx.Error(w, http.StatusConflict, err.Error())
		return
	}
	before := lead
	_, err = s.DB.Exec(r.Context(),
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND tenant = $4`,
		next, time.Now().UTC(), leadID, tenant)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead update failed")
		return
	}
	lead.Status = next

	s.recordAudit(r.Context(), tenant, "lead", leadID, "TRANSITION", s.actor(r), before, lead)
	s.Metrics.IncLeadStatus(next)
	s.publishEvent(r.Context(), events.TypeLeadTransitioned, tenant, map[string]any{
		"lead_id": leadID,
		"from":    before.Status,
		"to":      next,
	})
	httpx.WriteJSON(w, http.StatusOK, lead)
}

func (s *Server) assignLead(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Tenant   string   `json:"tenant,omitempty"`
		Strategy string   `json:"strategy"`
		Reps     []string `json:"reps,omitempty"`
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
	leadID := chi.URLParam(r, "lead_id")
	lead, err := s.fetchLead(r.Context(), tenant, leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead query failed")
		return
	}

	roster := req.Reps
	if len(roster) == 0 {
		if roster, err = s.salesRoster(r.Context(), tenant); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "roster query failed")
			return
		}
	}
	assigned, err := s.Assigner.Assign(r.Context(), tenant, req.Strategy, roster)
	if errors.Is(err, leads.ErrNoReps) {
		httpx.Error(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	before := lead
	_, err = s.DB.Exec(r.Context(),
		`UPDATE leads SET assigned_to = $1, updated_at = $2 WHERE id = $3 AND tenant = $4`,
		assigned.RepID, time.Now().UTC(), leadID, tenant)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead update failed")
		return
	}
	lead.AssignedTo = assigned.RepID

	s.recordAudit(r.Context(), tenant, "lead", leadID, "ASSIGN", s.actor(r), before, lead)
	s.Metrics.IncAssignment(assigned.Strategy)
	s.publishEvent(r.Context(), events.TypeLeadAssigned, tenant, map[string]any{
		"lead_id":     leadID,
		"assigned_to": assigned.RepID,
		"strategy":    assigned.Strategy,
		"reason":      assigned.Reason,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"lead": lead, "assignment": assigned})
}

func (s *Server) rescoreLead(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	leadID := chi.URLParam(r, "lead_id")
	lead, err := s.fetchLead(r.Context(), tenant, leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead query failed")
		return
	}

	scoreStart := time.Now()
	breakdown := s.Scorer.Score(lead)
	s.Metrics.ObserveScoreLatency(time.Since(scoreStart))
	_, err = s.DB.Exec(r.Context(),
		`UPDATE leads SET score = $1, score_band = $2, updated_at = $3 WHERE id = $4 AND tenant = $5`,
		breakdown.Score, breakdown.Band, time.Now().UTC(), leadID, tenant)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead update failed")
		return
	}
	s.Metrics.IncLeadBand(breakdown.Band)
	httpx.WriteJSON(w, http.StatusOK, breakdown)
}

func (s *Server) fetchLead(ctx context.Context, tenant, leadID string) (models.Lead, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND tenant = $2`, leadID, tenant)
	lead, err := scanLead(row)
	if err != nil {
		return models.Lead{}, err
	}
	return s.openLeadContact(lead)
}

type leadScanner interface {
	Scan(dest ...any) error
}

func scanLead(row leadScanner) (models.Lead, error) {
	var lead models.Lead
	err := row.Scan(&lead.ID, &lead.Tenant, &lead.CompanyName, &lead.ContactName, &lead.ContactEmail,
		&lead.ContactPhone, &lead.Source, &lead.ServiceType, &lead.SiteCount, &lead.BudgetMonthly,
		&lead.StartWithin, &lead.Region, &lead.Status, &lead.Score, &lead.ScoreBand, &lead.AssignedTo,
		&lead.CreatedAt, &lead.UpdatedAt)
	return lead, err
}

// sealLeadContact encrypts the contact fields before they touch the database.
func (s *Server) sealLeadContact(lead models.Lead) (models.Lead, error) {
	var err error
	if lead.ContactEmail, err = s.PII.Encrypt(lead.ContactEmail); err != nil {
		return models.Lead{}, err
	}
	if lead.ContactPhone, err = s.PII.Encrypt(lead.ContactPhone); err != nil {
		return models.Lead{}, err
	}
	return lead, nil
}

func (s *Server) openLeadContact(lead models.Lead) (models.Lead, error) {
	var err error
	if lead.ContactEmail, err = s.PII.Decrypt(lead.ContactEmail); err != nil {
		return models.Lead{}, err
	}
	if lead.ContactPhone, err = s.PII.Decrypt(lead.ContactPhone); err != nil {
		return models.Lead{}, err
	}
	return lead, nil
}

func (s *Server) publishEvent(ctx context.Context, eventType, tenant string, data map[string]any) {
	s.Hub.Publish(stream.NewEvent(eventType, tenant, data))
	env, err := events.NewEnvelope(eventType, tenant, data)
	if err != nil {
		return
	}
	// best effort, the database row is the source of truth
	if err := s.Bus.Publish(ctx, env); err != nil {
		log.Printf("event publish failed type=%s: %v", eventType, err)
	}
}

func (s *Server) recordAudit(ctx context.Context, tenant, entityType, entityID, action, actorID string, before, after any) {
	rec := audit.Record{
		ID:         uuid.NewString(),
		Tenant:     tenant,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Before:     marshalSnapshot(before),
		After:      marshalSnapshot(after),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Audit.Append(ctx, rec, actorID); err != nil {
		log.Printf("audit append failed entity=%s/%s: %v", entityType, entityID, err)
	}
}

func marshalSnapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}
