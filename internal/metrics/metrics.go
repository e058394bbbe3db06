package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smukkama/energy-pipeline/internal/database"
)

// Recorder exports pipeline run measurements to Prometheus
type Recorder struct {
	registry *prometheus.Registry

	runDuration   *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	coverage      *prometheus.GaugeVec
	avgConfidence *prometheus.GaugeVec
	unitsBlocked  *prometheus.GaugeVec
	unitsInvalid  *prometheus.GaugeVec

	decisions *prometheus.CounterVec
	anomalies *prometheus.CounterVec
}

// New creates a recorder on its own registry
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Duration of building pipeline runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total building pipeline runs by final status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		coverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_validation_coverage_ratio",
			Help: "Share of units with a cluster and a recent prediction at the last validation.",
		}, []string{"building_id"}),
		avgConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_validation_avg_confidence",
			Help: "Mean prediction confidence at the last validation.",
		}, []string{"building_id"}),
		unitsBlocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_validation_units_blocked",
			Help: "Units the optimizer could not plan at the last validation.",
		}, []string{"building_id"}),
		unitsInvalid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_validation_units_invalid",
			Help: "Units with missing or incomplete features at the last validation.",
		}, []string{"building_id"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_decisions_total",
			Help: "Recorded decisions by mode and outcome.",
		}, []string{"mode", "outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_anomalies_total",
			Help: "Recorded anomalies by type and severity.",
		}, []string{"type", "severity"}),
	}

	registry.MustRegister(r.runDuration)
	registry.MustRegister(r.runs)
	registry.MustRegister(r.stageDuration)
	registry.MustRegister(r.coverage)
	registry.MustRegister(r.avgConfidence)
	registry.MustRegister(r.unitsBlocked)
	registry.MustRegister(r.unitsInvalid)
	registry.MustRegister(r.decisions)
	registry.MustRegister(r.anomalies)

	return r
}

// Registry returns the Prometheus registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) StageFinished(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) RunFinished(status string, d time.Duration) {
	r.runDuration.WithLabelValues(status).Observe(d.Seconds())
	r.runs.WithLabelValues(status).Inc()
}

// Validation sets the per-building gauges from the latest record. A missing
// average confidence removes the series.
func (r *Recorder) Validation(v *database.ValidationRecord) {
	r.coverage.WithLabelValues(v.BuildingID).Set(v.Coverage)
	r.unitsBlocked.WithLabelValues(v.BuildingID).Set(float64(v.UnitsBlocked))
	r.unitsInvalid.WithLabelValues(v.BuildingID).Set(float64(v.UnitsInvalid))
	if v.AvgConfidence == nil {
		r.avgConfidence.DeleteLabelValues(v.BuildingID)
		return
	}
	r.avgConfidence.WithLabelValues(v.BuildingID).Set(*v.AvgConfidence)
}

func (r *Recorder) Decisions(mode string, approved, rejected int) {
	r.decisions.WithLabelValues(mode, "approved").Add(float64(approved))
	r.decisions.WithLabelValues(mode, "rejected").Add(float64(rejected))
}

func (r *Recorder) Anomalies(found []*database.Anomaly) {
	for _, a := range found {
		r.anomalies.WithLabelValues(a.AnomalyType, a.Severity).Inc()
	}
}
