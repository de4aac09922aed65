package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"guardpost/pkg/httpx"
	"guardpost/pkg/models"
)

// subjectHash normalizes a data-subject identifier (usually an email) before
// hashing so lookups survive case and whitespace differences.
func subjectHash(subject string) string {
	return hashIdentity(strings.ToLower(strings.TrimSpace(subject)))
}

func (s *Server) isSubjectRestricted(ctx context.Context, tenant, subject string) (bool, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM subject_restrictions
		WHERE tenant = $1 AND subject_hash = $2 AND lifted_at IS NULL
	`, tenant, subjectHash(subject)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "record_id")
	tenant, _ := s.tenantScope(r.Context())
	rec, err := s.Audit.Get(r.Context(), recordID, tenant)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.Error(w, http.StatusNotFound, "audit record not found")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request) {
	tenant, scoped := s.tenantScope(r.Context())
	if !scoped {
		tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
	}
	entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))
	entityID := strings.TrimSpace(r.URL.Query().Get("entity_id"))
	if entityType == "" || entityID == "" {
		httpx.Error(w, http.StatusBadRequest, "entity_type and entity_id required")
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	trail, err := s.Audit.Trail(r.Context(), tenant, entityType, entityID, limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"records": trail})
}

func (s *Server) exportComplianceData(w http.ResponseWriter, r *http.Request) {
	tenant, scoped := s.tenantScope(r.Context())
	if !scoped {
		tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
	}
	if tenant == "" {
		httpx.Error(w, http.StatusBadRequest, "tenant required")
		return
	}
	limit := 1000
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 10000 {
			limit = n
		}
	}
	rows, err := s.DB.Query(r.Context(), `
		SELECT id, entity_type, entity_id, action, actor_hash, created_at
		FROM audit_records WHERE tenant = $1
		ORDER BY created_at DESC LIMIT $2
	`, tenant, limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	defer rows.Close()
	records := []map[string]any{}
	for rows.Next() {
		var id, entityType, entityID, action, actorHash string
		var createdAt time.Time
		if err := rows.Scan(&id, &entityType, &entityID, &action, &actorHash, &createdAt); err != nil {
			log.Printf("compliance export: scan error: %v", err)
			continue
		}
		records = append(records, map[string]any{
			"id":          id,
			"entity_type": entityType,
			"entity_id":   entityID,
			"action":      action,
			"actor_hash":  actorHash,
			"created_at":  createdAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"tenant":       tenant,
		"generated_at": time.Now().UTC(),
		"records":      records,
	})
}

// complianceReport surfaces what an auditor asks for first: guards whose
// licenses lapse soon and whether active contracts are filled.
func (s *Server) complianceReport(w http.ResponseWriter, r *http.Request) {
	tenant, scoped := s.tenantScope(r.Context())
	if !scoped {
		tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
	}
	if tenant == "" {
		httpx.Error(w, http.StatusBadRequest, "tenant required")
		return
	}
	withinDays := envInt("LICENSE_EXPIRY_WARN_DAYS", 30)
	if raw := strings.TrimSpace(r.URL.Query().Get("within_days")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 365 {
			withinDays = n
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, withinDays).Format("2006-01-02")
	rows, err := s.DB.Query(r.Context(), `
		SELECT id, candidate_name, license_number, license_expiry
		FROM applications
		WHERE tenant = $1 AND stage = 'HIRED' AND license_expiry <> '' AND license_expiry <= $2
		ORDER BY license_expiry ASC
	`, tenant, cutoff)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "license query failed")
		return
	}
	defer rows.Close()
	expiring := []map[string]string{}
	for rows.Next() {
		var id, name, number, expiry string
		if err := rows.Scan(&id, &name, &number, &expiry); err != nil {
			log.Printf("compliance report: scan error: %v", err)
			continue
		}
		expiring = append(expiring, map[string]string{
			"application_id": id,
			"candidate_name": name,
			"license_number": number,
			"license_expiry": expiry,
		})
	}

	statusCounts := map[string]int{}
	crows, err := s.DB.Query(r.Context(),
		`SELECT status, COUNT(*) FROM contracts WHERE tenant = $1 GROUP BY status`, tenant)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "contract query failed")
		return
	}
	defer crows.Close()
	for crows.Next() {
		var status string
		var n int
		if err := crows.Scan(&status, &n); err == nil {
			statusCounts[status] = n
		}
	}

	var restricted int
	if err := s.DB.QueryRow(r.Context(), `
		SELECT COUNT(*) FROM subject_restrictions WHERE tenant = $1 AND lifted_at IS NULL
	`, tenant).Scan(&restricted); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "restriction query failed")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"tenant":              tenant,
		"generated_at":        time.Now().UTC(),
		"license_warn_days":   withinDays,
		"expiring_licenses":   expiring,
		"contracts_by_status": statusCounts,
		"restricted_subjects": restricted,
	})
}

func (s *Server) runRetentionNow(w http.ResponseWriter, r *http.Request) {
	report, err := s.applyRetention(r.Context())
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "retention failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) listSubjectRestrictions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	tenant, scoped := s.tenantScope(r.Context())
	query := `
		SELECT tenant, subject_hash, reason, created_by, created_at, COALESCE(lifted_by, ''), lifted_at
		FROM subject_restrictions
		WHERE lifted_at IS NULL
	`
	var (
		rows pgx.Rows
		err  error
	)
	if scoped {
		rows, err = s.DB.Query(r.Context(), query+` AND tenant = $1 ORDER BY created_at DESC LIMIT $2`, tenant, limit)
	} else {
		rows, err = s.DB.Query(r.Context(), query+` ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list subject restrictions")
		return
	}
	defer rows.Close()
	items := make([]models.SubjectRestriction, 0, limit)
	for rows.Next() {
		var item models.SubjectRestriction
		if err := rows.Scan(&item.Tenant, &item.SubjectHash, &item.Reason, &item.CreatedBy,
			&item.CreatedAt, &item.LiftedBy, &item.LiftedAt); err == nil {
			items = append(items, item)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) restrictSubject(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Subject string `json:"subject"`
		Reason  string `json:"reason"`
		Tenant  string `json:"tenant,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		httpx.Error(w, http.StatusBadRequest, "subject required")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual restriction"
	}
	hash := subjectHash(req.Subject)
	cmd, err := s.DB.Exec(r.Context(), `
		INSERT INTO subject_restrictions (tenant, subject_hash, reason, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant, subject_hash) DO UPDATE
		SET reason = EXCLUDED.reason, created_by = EXCLUDED.created_by, created_at = now(),
		    lifted_by = NULL, lifted_at = NULL
	`, tenant, hash, reason, s.actor(r))
	if err != nil || cmd.RowsAffected() == 0 {
		httpx.Error(w, http.StatusInternalServerError, "failed to restrict subject")
		return
	}
	s.recordAudit(r.Context(), tenant, "subject", hash, "RESTRICT", s.actor(r), nil,
		map[string]string{"reason": reason})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"tenant":       tenant,
		"subject_hash": hash,
		"reason":       reason,
	})
}

func (s *Server) unrestrictSubject(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Subject string `json:"subject"`
		Tenant  string `json:"tenant,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		httpx.Error(w, http.StatusBadRequest, "subject required")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	hash := subjectHash(req.Subject)
	cmd, err := s.DB.Exec(r.Context(), `
		UPDATE subject_restrictions
		SET lifted_by = $3, lifted_at = now()
		WHERE tenant = $1 AND subject_hash = $2 AND lifted_at IS NULL
	`, tenant, hash, s.actor(r))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to unrestrict subject")
		return
	}
	if cmd.RowsAffected() == 0 {
		httpx.Error(w, http.StatusNotFound, "active restriction not found")
		return
	}
	s.recordAudit(r.Context(), tenant, "subject", hash, "UNRESTRICT", s.actor(r), nil, nil)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"tenant":       tenant,
		"subject_hash": hash,
		"status":       "lifted",
	})
}

// handleGDPRExport is a subject access request: every record the platform
// holds about one data subject, queried by hashed identifier.
func (s *Server) handleGDPRExport(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	if subject == "" {
		httpx.Error(w, http.StatusBadRequest, "subject required")
		return
	}
	tenant, err := s.requestTenant(r, "")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	hash := subjectHash(subject)

	leadRows := []models.Lead{}
	rows, err := s.DB.Query(r.Context(),
		`SELECT `+leadColumns+` FROM leads WHERE tenant = $1 AND contact_email_hash = $2`, tenant, hash)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "lead query failed")
		return
	}
	defer rows.Close()
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			log.Printf("gdpr export: lead scan error: %v", err)
			continue
		}
		if lead, err = s.openLeadContact(lead); err == nil {
			leadRows = append(leadRows, lead)
		}
	}

	appRows := []models.Application{}
	arows, err := s.DB.Query(r.Context(), `
		SELECT id, tenant, candidate_name, email, phone, position, license_number, license_expiry,
		       stage, revision, created_at, updated_at
		FROM applications WHERE tenant = $1 AND email_hash = $2
	`, tenant, hash)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "application query failed")
		return
	}
	defer arows.Close()
	for arows.Next() {
		var app models.Application
		if err := arows.Scan(&app.ID, &app.Tenant, &app.CandidateName, &app.Email, &app.Phone,
			&app.Position, &app.LicenseNumber, &app.LicenseExpiry, &app.Stage, &app.Revision,
			&app.CreatedAt, &app.UpdatedAt); err != nil {
			log.Printf("gdpr export: application scan error: %v", err)
			continue
		}
		if app, err = s.openApplicationContact(app); err == nil {
			appRows = append(appRows, app)
		}
	}

	s.recordAudit(r.Context(), tenant, "subject", hash, "GDPR_EXPORT", s.actor(r), nil, nil)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"tenant":       tenant,
		"subject_hash": hash,
		"generated_at": time.Now().UTC(),
		"leads":        leadRows,
		"applications": appRows,
	})
}

// handleGDPRErasure pseudonymizes a data subject's records and restricts the
// subject so new intake is refused. audit_records stays untouched, it is
// append-only and already stores hashes.
func (s *Server) handleGDPRErasure(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Subject string `json:"subject"`
		Reason  string `json:"reason,omitempty"`
		Tenant  string `json:"tenant,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		httpx.Error(w, http.StatusBadRequest, "subject required")
		return
	}
	tenant, err := s.requestTenant(r, req.Tenant)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "GDPR erasure request"
	}

	hash := subjectHash(req.Subject)
	pseudonym := "REDACTED_" + hash[:16]
	affected := int64(0)

	cmd, err := s.DB.Exec(r.Context(), `
		UPDATE leads
		SET contact_name = $1, contact_email = '', contact_phone = '', contact_email_hash = $1
		WHERE tenant = $2 AND contact_email_hash = $3
	`, pseudonym, tenant, hash)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to pseudonymize leads")
		return
	}
	affected += cmd.RowsAffected()

	cmd, err = s.DB.Exec(r.Context(), `
		UPDATE applications
		SET candidate_name = $1, email = '', phone = '', email_hash = $1
		WHERE tenant = $2 AND email_hash = $3
	`, pseudonym, tenant, hash)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to pseudonymize applications")
		return
	}
	affected += cmd.RowsAffected()

	_, err = s.DB.Exec(r.Context(), `
		INSERT INTO subject_restrictions (tenant, subject_hash, reason, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant, subject_hash) DO UPDATE
		SET reason = EXCLUDED.reason, created_by = EXCLUDED.created_by, created_at = now(),
		    lifted_by = NULL, lifted_at = NULL
	`, tenant, hash, req.Reason, s.actor(r))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to restrict subject")
		return
	}

	s.recordAudit(r.Context(), tenant, "subject", hash, "GDPR_ERASURE", s.actor(r), nil,
		map[string]any{"reason": req.Reason, "rows_pseudonymized": affected})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"tenant":             tenant,
		"subject_hash":       hash,
		"rows_pseudonymized": affected,
		"restricted":         true,
	})
}
