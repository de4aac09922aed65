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

	"guardpost/pkg/calendar"
	"guardpost/pkg/pii"
	"guardpost/pkg/scheduling"
)

func newCalendarTestServer(db *fakeAPIDB, tokenURL, eventsURL string) *Server {
	s := newTestServer(db)
	s.Calendar = &calendar.Client{
		Config: calendar.Config{
			Provider:    "google",
			ClientID:    "guardpost-client",
			AuthURL:     "https://accounts.example.test/o/oauth2/auth",
			TokenURL:    tokenURL,
			EventsURL:   eventsURL,
			RedirectURI: "https://app.example.test/callback",
			Scopes:      []string{"calendar.events"},
		},
		DB:    db,
		Codec: pii.Noop{},
		HTTP:  http.DefaultClient,
	}
	return s
}

func shiftRowValues(id, tenant, status string) []any {
	start := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	return []any{id, tenant, "contract-1", "guard-9", start, start.Add(8 * time.Hour),
		status, "front gate", start.Add(-48 * time.Hour)}
}

func calendarAccountRowValues(tenant string) []any {
	return []any{"acct-1", tenant, "guard-9", "google", "primary",
		"access-token", "refresh-token", time.Now().UTC().Add(time.Hour)}
}

func TestConnectCalendar(t *testing.T) {
	s := newCalendarTestServer(&fakeAPIDB{}, "", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/calendar/connect", nil)
	rec := httptest.NewRecorder()
	s.connectCalendar(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["provider"] != "google" || got["state"] == "" {
		t.Fatalf("unexpected response: %v", got)
	}
	if !strings.HasPrefix(got["auth_url"], "https://accounts.example.test/o/oauth2/auth?") {
		t.Fatalf("unexpected auth url: %s", got["auth_url"])
	}
	if !strings.Contains(got["auth_url"], "state="+got["state"]) {
		t.Fatal("auth url must carry the issued state")
	}
}

func TestCalendarCallback(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostFormValue("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer provider.Close()

	db := &fakeAPIDB{}
	s := newCalendarTestServer(db, provider.URL, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/calendar/callback",
		strings.NewReader(`{"tenant":"t1","code":"auth-code"}`))
	rec := httptest.NewRecorder()
	s.calendarCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["provider"] != "google" || got["tenant"] != "t1" {
		t.Fatalf("unexpected account: %v", got)
	}
	if !db.executed("INSERT INTO calendar_accounts") {
		t.Fatal("linked account not persisted")
	}
	if !db.executed("INSERT INTO audit_records") {
		t.Fatal("link must be audited")
	}
}

func TestCalendarCallbackErrors(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejecting.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	cases := []struct {
		name     string
		tokenURL string
		body     string
		want     int
	}{
		{"missing code", rejecting.URL, `{"tenant":"t1"}`, http.StatusBadRequest},
		{"rejected code", rejecting.URL, `{"tenant":"t1","code":"bad"}`, http.StatusUnauthorized},
		{"provider down", broken.URL, `{"tenant":"t1","code":"ok"}`, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newCalendarTestServer(&fakeAPIDB{}, tc.tokenURL, "")
			req := httptest.NewRequest(http.MethodPost, "/v1/calendar/callback", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			s.calendarCallback(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUnlinkCalendar(t *testing.T) {
	db := &fakeAPIDB{}
	s := newCalendarTestServer(db, "", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/calendar/unlink?tenant=t1", nil)
	rec := httptest.NewRecorder()
	s.unlinkCalendar(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !db.executed("DELETE FROM calendar_accounts") {
		t.Fatal("unlink delete not executed")
	}
}

func TestSyncShiftToCalendar(t *testing.T) {
	var gotAuth string
	events := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer events.Close()

	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if strings.Contains(sql, "FROM shifts") {
				return fakeAPIRow{values: shiftRowValues("shift-1", "t1", string(scheduling.ShiftConfirmed))}
			}
			return fakeAPIRow{values: calendarAccountRowValues("t1")}
		},
	}
	s := newCalendarTestServer(db, "", events.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/calendar/sync-shift",
		strings.NewReader(`{"tenant":"t1","shift_id":"shift-1"}`))
	rec := httptest.NewRecorder()
	s.syncShiftToCalendar(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotAuth != "Bearer access-token" {
		t.Fatalf("event push must use the stored access token, got %q", gotAuth)
	}
	var got map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["status"] != "synced" || got["guard_id"] != "guard-9" {
		t.Fatalf("unexpected response: %v", got)
	}
}

func TestSyncShiftNotLinked(t *testing.T) {
	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if strings.Contains(sql, "FROM shifts") {
				return fakeAPIRow{values: shiftRowValues("shift-1", "t1", string(scheduling.ShiftScheduled))}
			}
			return fakeAPIRow{err: pgx.ErrNoRows}
		},
	}
	s := newCalendarTestServer(db, "", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/calendar/sync-shift",
		strings.NewReader(`{"tenant":"t1","shift_id":"shift-1"}`))
	rec := httptest.NewRecorder()
	s.syncShiftToCalendar(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unlinked guard should 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSyncShiftExpiredLink(t *testing.T) {
	events := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer events.Close()
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tokens.Close()

	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			if strings.Contains(sql, "FROM shifts") {
				return fakeAPIRow{values: shiftRowValues("shift-1", "t1", string(scheduling.ShiftConfirmed))}
			}
			return fakeAPIRow{values: calendarAccountRowValues("t1")}
		},
	}
	s := newCalendarTestServer(db, tokens.URL, events.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/calendar/sync-shift",
		strings.NewReader(`{"tenant":"t1","shift_id":"shift-1"}`))
	rec := httptest.NewRecorder()
	s.syncShiftToCalendar(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired link should 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSyncShiftValidation(t *testing.T) {
	db := &fakeAPIDB{}
	s := newCalendarTestServer(db, "", "")

	req := httptest.NewRequest(http.MethodPost, "/v1/calendar/sync-shift",
		strings.NewReader(`{"tenant":"t1"}`))
	rec := httptest.NewRecorder()
	s.syncShiftToCalendar(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing shift_id should 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/calendar/sync-shift",
		strings.NewReader(`{"tenant":"t1","shift_id":"ghost"}`))
	rec = httptest.NewRecorder()
	s.syncShiftToCalendar(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown shift should 404, got %d", rec.Code)
	}
}
