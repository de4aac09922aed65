// Package metrics keeps in-process counters for the API service and exposes
// them as JSON for dashboards and in Prometheus text format for scrapers.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu            sync.RWMutex
	endpoint      map[string]*EndpointStat
	leadStatus    map[string]int64
	leadBand      map[string]int64
	stageMove     map[string]int64
	shiftStatus   map[string]int64
	assignment    map[string]int64
	notifications int64
	gauges        map[string]float64
	scoreLatency  ScoreLatencyStat
	Histograms    *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type ScoreLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt    string                  `json:"generated_at"`
	Endpoints      map[string]EndpointStat `json:"endpoints"`
	LeadStatuses   map[string]int64        `json:"lead_statuses"`
	LeadBands      map[string]int64        `json:"lead_bands"`
	StageMoves     map[string]int64        `json:"stage_moves"`
	ShiftStatuses  map[string]int64        `json:"shift_statuses"`
	Assignments    map[string]int64        `json:"assignments"`
	Notifications  int64                   `json:"notifications_total"`
	Gauges         map[string]float64      `json:"gauges"`
	ScoreLatencyMS ScoreLatencyStat        `json:"lead_score_latency_ms"`
	Histograms     []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:    map[string]*EndpointStat{},
		leadStatus:  map[string]int64{},
		leadBand:    map[string]int64{},
		stageMove:   map[string]int64{},
		shiftStatus: map[string]int64{},
		assignment:  map[string]int64{},
		gauges:      map[string]float64{},
		Histograms:  NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) incKey(m map[string]int64, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	r.mu.Lock()
	m[key]++
	r.mu.Unlock()
}

func (r *Registry) IncLeadStatus(status string)   { r.incKey(r.leadStatus, status) }
func (r *Registry) IncLeadBand(band string)       { r.incKey(r.leadBand, band) }
func (r *Registry) IncStageMove(stage string)     { r.incKey(r.stageMove, stage) }
func (r *Registry) IncShiftStatus(status string)  { r.incKey(r.shiftStatus, status) }
func (r *Registry) IncAssignment(strategy string) { r.incKey(r.assignment, strategy) }

func (r *Registry) IncNotifications() {
	r.mu.Lock()
	r.notifications++
	r.mu.Unlock()
}

func (r *Registry) ObserveScoreLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scoreLatency.Count++
	r.scoreLatency.TotalMS += ms
	r.scoreLatency.LastMS = ms
	if ms > r.scoreLatency.MaxMS {
		r.scoreLatency.MaxMS = ms
	}
	r.scoreLatency.AvgMS = float64(r.scoreLatency.TotalMS) / float64(r.scoreLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Endpoints:     make(map[string]EndpointStat, len(r.endpoint)),
		LeadStatuses:  make(map[string]int64, len(r.leadStatus)),
		LeadBands:     make(map[string]int64, len(r.leadBand)),
		StageMoves:    make(map[string]int64, len(r.stageMove)),
		ShiftStatuses: make(map[string]int64, len(r.shiftStatus)),
		Assignments:   make(map[string]int64, len(r.assignment)),
		Notifications: r.notifications,
		Gauges:        make(map[string]float64, len(r.gauges)),
		ScoreLatencyMS: ScoreLatencyStat{
			Count:   r.scoreLatency.Count,
			TotalMS: r.scoreLatency.TotalMS,
			MaxMS:   r.scoreLatency.MaxMS,
			LastMS:  r.scoreLatency.LastMS,
			AvgMS:   r.scoreLatency.AvgMS,
		},
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.leadStatus {
		out.LeadStatuses[k] = v
	}
	for k, v := range r.leadBand {
		out.LeadBands[k] = v
	}
	for k, v := range r.stageMove {
		out.StageMoves[k] = v
	}
	for k, v := range r.shiftStatus {
		out.ShiftStatuses[k] = v
	}
	for k, v := range r.assignment {
		out.Assignments[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP guardpost_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE guardpost_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "guardpost_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP guardpost_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE guardpost_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "guardpost_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP guardpost_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE guardpost_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "guardpost_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP guardpost_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE guardpost_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "guardpost_endpoint_max_millis{endpoint=%q} %d\n", ep, snap.Endpoints[ep].MaxMillis)
		}
		b.WriteString("# HELP guardpost_lead_status_total leads observed by status\n")
		b.WriteString("# TYPE guardpost_lead_status_total counter\n")
		for _, status := range SortedKeys(snap.LeadStatuses) {
			fmt.Fprintf(b, "guardpost_lead_status_total{status=%q} %d\n", status, snap.LeadStatuses[status])
		}
		b.WriteString("# HELP guardpost_lead_band_total scored leads by band\n")
		b.WriteString("# TYPE guardpost_lead_band_total counter\n")
		for _, band := range SortedKeys(snap.LeadBands) {
			fmt.Fprintf(b, "guardpost_lead_band_total{band=%q} %d\n", band, snap.LeadBands[band])
		}
		b.WriteString("# HELP guardpost_stage_move_total pipeline moves by destination stage\n")
		b.WriteString("# TYPE guardpost_stage_move_total counter\n")
		for _, stage := range SortedKeys(snap.StageMoves) {
			fmt.Fprintf(b, "guardpost_stage_move_total{stage=%q} %d\n", stage, snap.StageMoves[stage])
		}
		b.WriteString("# HELP guardpost_shift_status_total shift transitions by status\n")
		b.WriteString("# TYPE guardpost_shift_status_total counter\n")
		for _, status := range SortedKeys(snap.ShiftStatuses) {
			fmt.Fprintf(b, "guardpost_shift_status_total{status=%q} %d\n", status, snap.ShiftStatuses[status])
		}
		b.WriteString("# HELP guardpost_assignment_total lead assignments by strategy\n")
		b.WriteString("# TYPE guardpost_assignment_total counter\n")
		for _, strategy := range SortedKeys(snap.Assignments) {
			fmt.Fprintf(b, "guardpost_assignment_total{strategy=%q} %d\n", strategy, snap.Assignments[strategy])
		}
		b.WriteString("# HELP guardpost_notifications_total notifications written\n")
		b.WriteString("# TYPE guardpost_notifications_total counter\n")
		fmt.Fprintf(b, "guardpost_notifications_total %d\n", snap.Notifications)
		b.WriteString("# HELP guardpost_gauge operational gauge metrics\n")
		b.WriteString("# TYPE guardpost_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "guardpost_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP guardpost_lead_score_latency_ms lead scoring latency in ms\n")
		b.WriteString("# TYPE guardpost_lead_score_latency_ms gauge\n")
		fmt.Fprintf(b, "guardpost_lead_score_latency_ms{stat=%q} %d\n", "last", snap.ScoreLatencyMS.LastMS)
		fmt.Fprintf(b, "guardpost_lead_score_latency_ms{stat=%q} %.3f\n", "avg", snap.ScoreLatencyMS.AvgMS)
		fmt.Fprintf(b, "guardpost_lead_score_latency_ms{stat=%q} %d\n", "max", snap.ScoreLatencyMS.MaxMS)
		for _, h := range snap.Histograms {
			b.WriteString("# HELP guardpost_latency_seconds latency histogram\n")
			b.WriteString("# TYPE guardpost_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "guardpost_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "guardpost_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "guardpost_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "guardpost_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "guardpost_latency_p50_seconds{endpoint=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "guardpost_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "guardpost_latency_p99_seconds{endpoint=%q} %.6f\n", h.Name, h.P99)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
