package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disaster_alert"

// Metrics holds the Prometheus counters, histograms, and gauges for the alert service.
type Metrics struct {
	ObservationsIngested prometheus.Counter
	IngestErrors         prometheus.Counter
	HistoryPruned        prometheus.Counter

	// Evaluation metrics.
	Assessments     *prometheus.CounterVec // labels: risk_level, disaster_type, source
	AssessmentCache *prometheus.CounterVec // labels: result={hit,miss,error}

	// Notification metrics.
	AlertsSent       *prometheus.CounterVec // labels: channel={email,event}, outcome={sent,logged,failed}
	AlertsSuppressed prometheus.Counter

	// Scheduler metrics.
	SchedulerRunning     prometheus.Gauge
	RefreshCycleDuration prometheus.Histogram
	RefreshCyclePlaces   prometheus.Histogram

	// Upstream metrics.
	GeocodeRequests  *prometheus.CounterVec   // labels: outcome={success,error,not_found}
	GeocodeCache     *prometheus.CounterVec   // labels: result={hit,miss}
	UpstreamDuration *prometheus.HistogramVec // labels: api={forecast,geocode,sendgrid}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ObservationsIngested,
		m.IngestErrors,
		m.HistoryPruned,
		m.Assessments,
		m.AssessmentCache,
		m.AlertsSent,
		m.AlertsSuppressed,
		m.SchedulerRunning,
		m.RefreshCycleDuration,
		m.RefreshCyclePlaces,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.UpstreamDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ObservationsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_ingested_total",
			Help:      "Total live observations saved to the history store.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Total failures fetching or saving observations.",
		}),
		HistoryPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_pruned_total",
			Help:      "Total hourly history rows removed by the retention window.",
		}),
		Assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Risk assessments by level, disaster type, and data source.",
		}, []string{"risk_level", "disaster_type", "source"}),
		AssessmentCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessment_cache_total",
			Help:      "Assessment cache lookups by result.",
		}, []string{"result"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "HIGH assessments not notified because the location was cooling down.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the refresh scheduler is active, 0 when shut down.",
		}),
		RefreshCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Duration of a complete refresh cycle over all places.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		RefreshCyclePlaces: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_cycle_places",
			Help:      "Number of places visited per refresh cycle.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"api"}),
	}
}
