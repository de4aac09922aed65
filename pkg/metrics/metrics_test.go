package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveAggregatesEndpointStats(t *testing.T) {
	r := NewRegistry()
	r.Observe("/v1/leads", 200, 10*time.Millisecond)
	r.Observe("/v1/leads", 500, 30*time.Millisecond)

	snap := r.Snapshot()
	stat, ok := snap.Endpoints["/v1/leads"]
	if !ok {
		t.Fatal("expected endpoint stat")
	}
	if stat.Count != 2 || stat.ErrorCount != 1 {
		t.Fatalf("unexpected counts: %+v", stat)
	}
	if stat.MaxMillis != 30 || stat.AverageMillis != 20 {
		t.Fatalf("unexpected latency stats: %+v", stat)
	}
	if stat.LastStatusCode != 500 {
		t.Fatalf("unexpected last status: %d", stat.LastStatusCode)
	}
}

func TestDomainCounters(t *testing.T) {
	r := NewRegistry()
	r.IncLeadStatus("NEW")
	r.IncLeadStatus("NEW")
	r.IncLeadBand("hot")
	r.IncStageMove("INTERVIEW")
	r.IncShiftStatus("CONFIRMED")
	r.IncAssignment("round_robin")
	r.IncNotifications()
	r.IncLeadStatus("  ")

	snap := r.Snapshot()
	if snap.LeadStatuses["NEW"] != 2 {
		t.Fatalf("lead status count = %d", snap.LeadStatuses["NEW"])
	}
	if snap.LeadBands["hot"] != 1 || snap.StageMoves["INTERVIEW"] != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ShiftStatuses["CONFIRMED"] != 1 || snap.Assignments["round_robin"] != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Notifications != 1 {
		t.Fatalf("notifications = %d", snap.Notifications)
	}
	if len(snap.LeadStatuses) != 1 {
		t.Fatalf("blank keys must be dropped: %v", snap.LeadStatuses)
	}
}

func TestObserveScoreLatency(t *testing.T) {
	r := NewRegistry()
	r.ObserveScoreLatency(10 * time.Millisecond)
	r.ObserveScoreLatency(30 * time.Millisecond)
	r.ObserveScoreLatency(-time.Second)

	snap := r.Snapshot()
	if snap.ScoreLatencyMS.Count != 3 || snap.ScoreLatencyMS.MaxMS != 30 {
		t.Fatalf("unexpected score latency: %+v", snap.ScoreLatencyMS)
	}
	if snap.ScoreLatencyMS.LastMS != 0 {
		t.Fatalf("negative duration must clamp to zero, got %d", snap.ScoreLatencyMS.LastMS)
	}
}

func TestJSONHandler(t *testing.T) {
	r := NewRegistry()
	r.IncLeadBand("warm")
	r.SetGauge("websocket_subscribers", 3)

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.LeadBands["warm"] != 1 || snap.Gauges["websocket_subscribers"] != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe("/v1/pipeline/board", 200, 5*time.Millisecond)
	r.IncStageMove("OFFER")
	r.IncAssignment("lowest_workload")
	r.ObserveLatency("/v1/pipeline/board", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	r.PrometheusHandler()(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`guardpost_endpoint_count{endpoint="/v1/pipeline/board"} 1`,
		`guardpost_stage_move_total{stage="OFFER"} 1`,
		`guardpost_assignment_total{strategy="lowest_workload"} 1`,
		`guardpost_latency_seconds_count{endpoint="/v1/pipeline/board"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, body)
		}
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type: %s", rec.Header().Get("Content-Type"))
	}
}

func TestHistogramSnapshotPercentiles(t *testing.T) {
	h := NewHistogram("test")
	for i := 0; i < 99; i++ {
		h.Observe(8 * time.Millisecond)
	}
	h.Observe(2 * time.Second)

	snap := h.Snapshot()
	if snap.Count != 100 {
		t.Fatalf("count = %d", snap.Count)
	}
	if snap.P50 != 0.01 {
		t.Fatalf("p50 = %v, want 0.01", snap.P50)
	}
	if snap.P99 != 0.01 {
		t.Fatalf("p99 = %v, want 0.01", snap.P99)
	}
}

func TestHistogramRegistryReusesInstances(t *testing.T) {
	r := NewHistogramRegistry()
	a := r.Get("x")
	b := r.Get("x")
	if a != b {
		t.Fatal("expected same histogram instance")
	}
	r.ObserveDuration("x", time.Millisecond)
	snaps := r.Snapshots()
	if len(snaps) != 1 || snaps[0].Count != 1 {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}
}
