package observability

import (
	"io"
	"net/http"
	"strconv"
	"time"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	apiRequests    *CounterVec
	apiLatency     *HistogramVec
	apiInflight    *Gauge
	pipelineRuns   *CounterVec
	activeRuns     *Gauge
	stageDuration  *HistogramVec
	eventsDropped  *CounterVec
	scrapeOutcomes *CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("listinglens_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"listinglens_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		),
		apiInflight:  NewGauge("listinglens_api_inflight_requests", "In-flight API requests."),
		pipelineRuns: NewCounterVec("listinglens_pipeline_runs_total", "Finished pipeline runs by outcome.", []string{"outcome"}),
		activeRuns:   NewGauge("listinglens_pipeline_active_runs", "Pipelines currently running."),
		stageDuration: NewHistogramVec(
			"listinglens_stage_duration_seconds",
			"Stage wall time in seconds by stage/status.",
			[]string{"stage", "status"},
			[]float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 180},
		),
		eventsDropped:  NewCounterVec("listinglens_progress_events_dropped_total", "Buffered progress events dropped at the buffer limit.", []string{"reason"}),
		scrapeOutcomes: NewCounterVec("listinglens_scrape_outcomes_total", "Product scrapes by role/outcome.", []string{"role", "outcome"}),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.pipelineRuns, m.activeRuns, m.stageDuration,
		m.eventsDropped, m.scrapeOutcomes,
	}
	for _, c := range writers {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	code := strconv.Itoa(status)
	m.apiRequests.Inc(method, route, code)
	m.apiLatency.Observe(dur.Seconds(), method, route, code)
}

func (m *Metrics) APIInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) APIInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) PipelineStarted() {
	if m != nil {
		m.activeRuns.Inc()
	}
}

// PipelineFinished records a run outcome: completed, failed or timeout.
func (m *Metrics) PipelineFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.pipelineRuns.Inc(outcome)
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m != nil {
		m.stageDuration.Observe(dur.Seconds(), stage, status)
	}
}

func (m *Metrics) IncEventDropped(reason string) {
	if m != nil {
		m.eventsDropped.Inc(reason)
	}
}

func (m *Metrics) IncScrape(role, outcome string) {
	if m != nil {
		m.scrapeOutcomes.Inc(role, outcome)
	}
}

func (m *Metrics) PipelineRuns(outcome string) float64 {
	if m == nil {
		return 0
	}
	return m.pipelineRuns.Value(outcome)
}

func (m *Metrics) StageObservations(stage, status string) uint64 {
	if m == nil {
		return 0
	}
	return m.stageDuration.Count(stage, status)
}
