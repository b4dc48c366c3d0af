// Package metrics exposes the engine's Prometheus collectors and the
// /metrics scrape handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the engine, dispatcher, and watcher
// report into. All collectors live on a private registry so tests can
// create as many instances as they want.
type Metrics struct {
	registry *prometheus.Registry

	InstancesStarted  *prometheus.CounterVec
	InstancesFinished *prometheus.CounterVec
	InstancesRunning  prometheus.Gauge
	TaskAttempts      *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	ReportsStored     prometheus.Counter
	WatcherScans      prometheus.Counter
	WatcherTriggered  prometheus.Counter
}

// New creates a Metrics with the standard Go and process collectors
// registered alongside the engine's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		InstancesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_instances_started_total",
			Help: "Orchestration instances started, by trigger.",
		}, []string{"trigger"}),
		InstancesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_instances_finished_total",
			Help: "Orchestration instances reaching a terminal status.",
		}, []string{"status"}),
		InstancesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docket_instances_running",
			Help: "Orchestration instances currently executing.",
		}),
		TaskAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_task_attempts_total",
			Help: "Activity dispatch outcomes, by activity and outcome.",
		}, []string{"activity", "outcome"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docket_task_duration_seconds",
			Help:    "Wall time of activity dispatches, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"activity"}),
		ReportsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "docket_reports_stored_total",
			Help: "Reports persisted by the store activity.",
		}),
		WatcherScans: factory.NewCounter(prometheus.CounterOpts{
			Name: "docket_watcher_scans_total",
			Help: "Container scans performed by the document watcher.",
		}),
		WatcherTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "docket_watcher_triggered_total",
			Help: "Orchestrations started by the document watcher.",
		}),
	}
}

// Handler returns the scrape handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTask records one finished dispatch attempt sequence.
func (m *Metrics) ObserveTask(activity string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TaskAttempts.WithLabelValues(activity, outcome).Inc()
	m.TaskDuration.WithLabelValues(activity).Observe(time.Since(start).Seconds())
}

// InstanceStarted records a driver picking up an instance.
func (m *Metrics) InstanceStarted(trigger string) {
	if m == nil {
		return
	}
	m.InstancesStarted.WithLabelValues(trigger).Inc()
	m.InstancesRunning.Inc()
}

// InstanceDone records a driver letting go of an instance, terminal or not.
func (m *Metrics) InstanceDone() {
	if m == nil {
		return
	}
	m.InstancesRunning.Dec()
}

// InstanceFinished records a terminal transition.
func (m *Metrics) InstanceFinished(status string) {
	if m == nil {
		return
	}
	m.InstancesFinished.WithLabelValues(status).Inc()
}

// ReportStored records one persisted report.
func (m *Metrics) ReportStored() {
	if m == nil {
		return
	}
	m.ReportsStored.Inc()
}

// WatcherScan records one completed container scan.
func (m *Metrics) WatcherScan() {
	if m == nil {
		return
	}
	m.WatcherScans.Inc()
}

// WatcherTrigger records one orchestration started by the watcher.
func (m *Metrics) WatcherTrigger() {
	if m == nil {
		return
	}
	m.WatcherTriggered.Inc()
}
