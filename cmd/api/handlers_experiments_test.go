package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guardpost/pkg/abtest"
	"guardpost/pkg/models"
)

func experimentRowValues(id, tenant, key, status string, variants []models.Variant) []any {
	b, _ := json.Marshal(variants)
	return []any{id, tenant, key, status, b, 0.05, time.Now().UTC()}
}

var checkoutVariants = []models.Variant{
	{Name: "control", Weight: 5000},
	{Name: "fast_quote", Weight: 5000},
}

func TestCreateExperiment(t *testing.T) {
	db := &fakeAPIDB{}
	s := newTestServer(db)

	body := `{"key":"quote_form","variants":[{"name":"control","weight":5000},{"name":"fast_quote","weight":5000}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/experiments?tenant=t1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.createExperiment(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["status"] != abtest.StatusDraft {
		t.Fatalf("new experiment must start DRAFT, got %v", got["status"])
	}
	if got["alpha"].(float64) != abtest.DefaultAlpha {
		t.Fatalf("expected default alpha, got %v", got["alpha"])
	}
}

func TestCreateExperimentBadSplit(t *testing.T) {
	s := newTestServer(&fakeAPIDB{})
	body := `{"key":"quote_form","variants":[{"name":"control","weight":100},{"name":"b","weight":100}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/experiments?tenant=t1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.createExperiment(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad split should 400, got %d", rec.Code)
	}
}

func TestCreateExperimentDuplicateKey(t *testing.T) {
	db := &fakeAPIDB{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if strings.Contains(sql, "INSERT INTO experiments") {
				return pgconn.CommandTag{}, errors.New("duplicate key value violates unique constraint")
			}
			return pgconn.NewCommandTag("INSERT 1"), nil
		},
	}
	s := newTestServer(db)
	body := `{"key":"quote_form","variants":[{"name":"control","weight":5000},{"name":"b","weight":5000}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/experiments?tenant=t1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.createExperiment(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate key should 409, got %d", rec.Code)
	}
}

func TestCanTransitionExperiment(t *testing.T) {
	allowed := [][2]string{
		{abtest.StatusDraft, abtest.StatusRunning},
		{abtest.StatusRunning, abtest.StatusPaused},
		{abtest.StatusRunning, abtest.StatusCompleted},
		{abtest.StatusPaused, abtest.StatusRunning},
		{abtest.StatusPaused, abtest.StatusCompleted},
	}
	for _, pair := range allowed {
		if !canTransitionExperiment(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be allowed", pair[0], pair[1])
		}
	}
	denied := [][2]string{
		{abtest.StatusDraft, abtest.StatusCompleted},
		{abtest.StatusCompleted, abtest.StatusRunning},
		{abtest.StatusRunning, abtest.StatusDraft},
	}
	for _, pair := range denied {
		if canTransitionExperiment(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be denied", pair[0], pair[1])
		}
	}
}

func TestAssignVariant(t *testing.T) {
	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeAPIRow{values: experimentRowValues("exp-1", "t1", "quote_form", abtest.StatusRunning, checkoutVariants)}
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodPost, "/v1/experiments/quote_form/assign",
		strings.NewReader(`{"tenant":"t1","subject":"lead-42"}`))
	req = withChiParam(req, "key", "quote_form")
	rec := httptest.NewRecorder()
	s.assignVariant(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["variant"] != "control" && got["variant"] != "fast_quote" {
		t.Fatalf("unexpected variant %q", got["variant"])
	}
	if !db.executed("INSERT INTO experiment_assignments") {
		t.Fatal("assignment upsert not executed")
	}

	// Same subject must land on the same variant.
	req = httptest.NewRequest(http.MethodPost, "/v1/experiments/quote_form/assign",
		strings.NewReader(`{"tenant":"t1","subject":"lead-42"}`))
	req = withChiParam(req, "key", "quote_form")
	rec2 := httptest.NewRecorder()
	s.assignVariant(rec2, req)
	var again map[string]string
	_ = json.Unmarshal(rec2.Body.Bytes(), &again)
	if again["variant"] != got["variant"] {
		t.Fatalf("assignment must be sticky: %q then %q", got["variant"], again["variant"])
	}
}

func TestAssignVariantNotRunning(t *testing.T) {
	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeAPIRow{values: experimentRowValues("exp-1", "t1", "quote_form", abtest.StatusDraft, checkoutVariants)}
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodPost, "/v1/experiments/quote_form/assign",
		strings.NewReader(`{"tenant":"t1","subject":"lead-42"}`))
	req = withChiParam(req, "key", "quote_form")
	rec := httptest.NewRecorder()
	s.assignVariant(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("draft experiment should 409, got %d", rec.Code)
	}
}

func TestRecordConversionUnassignedSubject(t *testing.T) {
	db := &fakeAPIDB{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodPost, "/v1/experiments/quote_form/convert",
		strings.NewReader(`{"tenant":"t1","subject":"nobody"}`))
	req = withChiParam(req, "key", "quote_form")
	rec := httptest.NewRecorder()
	s.recordConversion(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unassigned subject should 404, got %d", rec.Code)
	}
}

func TestExperimentResults(t *testing.T) {
	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeAPIRow{values: experimentRowValues("exp-1", "t1", "quote_form", abtest.StatusCompleted, checkoutVariants)}
		},
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &fakeAPIRows{rows: [][]any{
				{"fast_quote", int64(400), int64(80)},
				{"control", int64(400), int64(40)},
			}}, nil
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodGet, "/v1/experiments/quote_form/results?tenant=t1", nil)
	req = withChiParam(req, "key", "quote_form")
	rec := httptest.NewRecorder()
	s.experimentResults(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Results abtest.Results `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// The declared order decides the control, not the row order.
	if got.Results.Control.Variant != "control" {
		t.Fatalf("control should be the first declared variant, got %q", got.Results.Control.Variant)
	}
	if len(got.Results.Variants) != 1 || !got.Results.Variants[0].Significant {
		t.Fatalf("doubled conversion rate at n=400 should be significant: %+v", got.Results.Variants)
	}
}

func TestExperimentResultsCountSubjects(t *testing.T) {
	// A subject assigned five times is still one trial. The denominator must
	// be the number of assignment rows, matching the distinct-converter
	// numerator, or repeat exposures deflate every conversion rate.
	var resultsSQL string
	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeAPIRow{values: experimentRowValues("exp-1", "t1", "quote_form", abtest.StatusCompleted, checkoutVariants)}
		},
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			resultsSQL = sql
			return &fakeAPIRows{rows: [][]any{
				{"control", int64(200), int64(50)},
				{"fast_quote", int64(200), int64(60)},
			}}, nil
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodGet, "/v1/experiments/quote_form/results?tenant=t1", nil)
	req = withChiParam(req, "key", "quote_form")
	rec := httptest.NewRecorder()
	s.experimentResults(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(resultsSQL, "COUNT(*)") {
		t.Fatalf("exposures must count assignment rows, got query: %s", resultsSQL)
	}
	if strings.Contains(resultsSQL, "SUM(exposures)") {
		t.Fatalf("repeat exposures must not inflate the trial count: %s", resultsSQL)
	}
	var got struct {
		Results abtest.Results `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Results.Control.Exposures != 200 || got.Results.Control.ConversionRate != 0.25 {
		t.Fatalf("control rate must be converters/subjects, got %+v", got.Results.Control)
	}
}

func TestTransitionExperimentGuards(t *testing.T) {
	db := &fakeAPIDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeAPIRow{values: experimentRowValues("exp-1", "t1", "quote_form", abtest.StatusDraft, checkoutVariants)}
		},
	}
	s := newTestServer(db)

	req := httptest.NewRequest(http.MethodPost, "/v1/experiments/quote_form/transition",
		strings.NewReader(`{"tenant":"t1","to":"COMPLETED"}`))
	req = withChiParam(req, "key", "quote_form")
	rec := httptest.NewRecorder()
	s.transitionExperiment(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("draft cannot complete directly, expected 409 got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/experiments/quote_form/transition",
		strings.NewReader(`{"tenant":"t1","to":"running"}`))
	req = withChiParam(req, "key", "quote_form")
	rec = httptest.NewRecorder()
	s.transitionExperiment(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("draft to running should 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
