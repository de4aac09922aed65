package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guardpost/pkg/auth"
)

func TestListNotificationsDefaultsToCaller(t *testing.T) {
	var gotRecipient string
	db := &fakeAPIDB{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotRecipient = args[1].(string)
			return &fakeAPIRows{rows: [][]any{
				{"ntf-1", "t1", "guard-9", "shift.booked", []byte(`{"guard_id":"guard-9"}`), false, time.Now().UTC()},
			}}, nil
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications?tenant=t1", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(),
		auth.Principal{Subject: "guard-9", Tenant: "t1", Roles: []string{"dispatcher"}}))
	rec := httptest.NewRecorder()
	s.listNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotRecipient != "guard-9" {
		t.Fatalf("recipient must default to the caller, got %q", gotRecipient)
	}
	var got struct {
		Notifications []map[string]any `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Notifications) != 1 || got.Notifications[0]["kind"] != "shift.booked" {
		t.Fatalf("unexpected notifications: %v", got.Notifications)
	}
}

func TestListNotificationsUnreadFilter(t *testing.T) {
	var gotSQL string
	var gotRecipient string
	db := &fakeAPIDB{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotSQL = sql
			gotRecipient = args[1].(string)
			return &fakeAPIRows{}, nil
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/notifications?tenant=t1&recipient=guard-2&unread=true", nil)
	rec := httptest.NewRecorder()
	s.listNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(gotSQL, "read = FALSE") {
		t.Fatal("unread=true must narrow the query to unread rows")
	}
	if gotRecipient != "guard-2" {
		t.Fatalf("explicit recipient should win, got %q", gotRecipient)
	}
}

func TestMarkNotificationsRead(t *testing.T) {
	db := &fakeAPIDB{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 2"), nil
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications/read",
		strings.NewReader(`{"tenant":"t1","ids":["ntf-1","ntf-2"]}`))
	rec := httptest.NewRecorder()
	s.markNotificationsRead(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		MarkedRead int64 `json:"marked_read"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.MarkedRead != 2 {
		t.Fatalf("expected 2 marked read, got %d", got.MarkedRead)
	}
	if !db.executed("UPDATE notifications SET read = TRUE") {
		t.Fatal("mark read update not executed")
	}
}

func TestMarkNotificationsReadRequiresIDs(t *testing.T) {
	s := newTestServer(&fakeAPIDB{})
	req := httptest.NewRequest(http.MethodPost, "/v1/notifications/read",
		strings.NewReader(`{"tenant":"t1","ids":[]}`))
	rec := httptest.NewRecorder()
	s.markNotificationsRead(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty ids should 400, got %d", rec.Code)
	}
}
