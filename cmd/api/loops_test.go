package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestApplyRetention(t *testing.T) {
	db := &fakeAPIDB{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			switch {
			case strings.Contains(sql, "DELETE FROM audit_records"):
				return pgconn.NewCommandTag("DELETE 5"), nil
			case strings.Contains(sql, "DELETE FROM leads"):
				return pgconn.NewCommandTag("DELETE 3"), nil
			case strings.Contains(sql, "DELETE FROM notifications"):
				return pgconn.NewCommandTag("DELETE 7"), nil
			default:
				return pgconn.NewCommandTag("DELETE 0"), nil
			}
		},
	}
	s := newTestServer(db)
	s.RetentionDays = 30

	report, err := s.applyRetention(context.Background())
	if err != nil {
		t.Fatalf("applyRetention: %v", err)
	}
	if report["days"] != 30 {
		t.Fatalf("expected 30 day window, got %v", report["days"])
	}
	if report["audit_records"] != int64(5) || report["leads"] != int64(3) || report["notifications"] != int64(7) {
		t.Fatalf("unexpected report: %v", report)
	}
	if !db.executed("DELETE FROM leads") {
		t.Fatal("closed lead purge not executed")
	}
	for _, sql := range db.execSQL {
		if strings.Contains(sql, "DELETE FROM leads") && !strings.Contains(sql, "status IN") {
			t.Fatal("retention must only delete closed leads")
		}
	}
}

func TestRunRetentionNow(t *testing.T) {
	s := newTestServer(&fakeAPIDB{})
	req := httptest.NewRequest(http.MethodPost, "/v1/compliance/retention/run", nil)
	rec := httptest.NewRecorder()
	s.runRetentionNow(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got["cutoff"] == "" || got["days"] == nil {
		t.Fatalf("report missing window: %v", got)
	}
}

func TestEscalateStaleLeads(t *testing.T) {
	db := &fakeAPIDB{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &fakeAPIRows{rows: [][]any{{"lead-1", "t1", "rep-a"}}}, nil
		},
	}
	s := newTestServer(db)

	ch := s.Hub.Subscribe("t1", 4)
	defer s.Hub.Unsubscribe(ch)

	if err := s.escalateStaleLeads(context.Background()); err != nil {
		t.Fatalf("escalateStaleLeads: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != "lead.stale" {
			t.Fatalf("unexpected event type %q", evt.Type)
		}
		var data map[string]string
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatalf("decode event data: %v", err)
		}
		if data["lead_id"] != "lead-1" || data["assigned_to"] != "rep-a" {
			t.Fatalf("unexpected event data: %v", data)
		}
	default:
		t.Fatal("expected a stale lead event on the tenant stream")
	}
}

func TestUpdateOperationalMetrics(t *testing.T) {
	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeAPIRow{values: []any{int64(4)}}
		},
	}
	s := newTestServer(db)

	s.updateOperationalMetrics(context.Background())

	snap := s.Metrics.Snapshot()
	for _, gauge := range []string{"open_leads", "active_contracts", "scheduled_shifts", "unread_notifications"} {
		if snap.Gauges[gauge] != 4 {
			t.Fatalf("gauge %s = %v, want 4", gauge, snap.Gauges[gauge])
		}
	}
}
