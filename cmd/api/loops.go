package main

import (
	"context"
	"log"
	"time"

	"guardpost/pkg/leads"
	"guardpost/pkg/stream"
)

func (s *Server) retentionLoop(ctx context.Context) {
	interval := s.RetentionInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if report, err := s.applyRetention(ctx); err != nil {
				log.Printf("retention pass failed: %v", err)
			} else {
				log.Printf("retention pass: %v", report)
			}
		}
	}
}

// applyRetention deletes rows older than the retention window: purged audit
// records, closed leads, and read notifications. Open work is never touched.
func (s *Server) applyRetention(ctx context.Context) (map[string]any, error) {
	days := s.RetentionDays
	if days <= 0 {
		days = 365
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	report := map[string]any{
		"cutoff": cutoff.Format(time.RFC3339),
		"days":   days,
	}

	auditPurged, err := s.Audit.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	report["audit_records"] = auditPurged

	tag, err := s.DB.Exec(ctx, `
		DELETE FROM leads
		WHERE status IN ('WON','LOST','DISQUALIFIED') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	report["leads"] = tag.RowsAffected()

	tag, err = s.DB.Exec(ctx,
		`DELETE FROM notifications WHERE read = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	report["notifications"] = tag.RowsAffected()
	return report, nil
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateOperationalMetrics(ctx)
		}
	}
}

func (s *Server) updateOperationalMetrics(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	gauges := map[string]string{
		"open_leads":           `SELECT COUNT(*) FROM leads WHERE status NOT IN ('WON','LOST','DISQUALIFIED')`,
		"active_contracts":     `SELECT COUNT(*) FROM contracts WHERE status = 'ACTIVE'`,
		"scheduled_shifts":     `SELECT COUNT(*) FROM shifts WHERE status IN ('SCHEDULED','CONFIRMED')`,
		"unread_notifications": `SELECT COUNT(*) FROM notifications WHERE read = FALSE`,
	}
	for name, query := range gauges {
		var n int64
		if err := s.DB.QueryRow(qctx, query).Scan(&n); err != nil {
			continue
		}
		s.Metrics.SetGauge(name, float64(n))
	}
}

func (s *Server) staleLeadLoop(ctx context.Context) {
	interval := s.StaleLeadInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.escalateStaleLeads(ctx); err != nil {
				log.Printf("stale lead sweep failed: %v", err)
			}
		}
	}
}

// escalateStaleLeads flags NEW leads nobody touched within the threshold so
// the dashboard can surface them.
func (s *Server) escalateStaleLeads(ctx context.Context) error {
	threshold := s.StaleLeadAfter
	if threshold <= 0 {
		threshold = 48 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant, assigned_to FROM leads
		WHERE status = $1 AND created_at < $2
	`, leads.StatusNew, cutoff)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, tenant, assignedTo string
		if err := rows.Scan(&id, &tenant, &assignedTo); err != nil {
			return err
		}
		s.Hub.Publish(stream.NewEvent("lead.stale", tenant, map[string]string{
			"lead_id":     id,
			"assigned_to": assignedTo,
		}))
	}
	return rows.Err()
}

func (s *Server) presenceSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Presence.Sweep()
		}
	}
}
