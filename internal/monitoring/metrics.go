package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/biswatch/internal/model"
)

// Metrics exposes run observability in Prometheus exposition format.
// All collectors live on a private registry so that constructing a
// second Metrics (as tests do) never panics on duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	pagesTotal       *prometheus.CounterVec
	retriesTotal     prometheus.Counter
	cooldownsTotal   prometheus.Counter
	recordsExtracted prometheus.Counter
	recordsKept      prometheus.Counter
	changesTotal     *prometheus.CounterVec

	stateEntries     prometheus.Gauge
	failedQueueDepth prometheus.Gauge
	baselineComplete prometheus.Gauge
	lastRunUnix      prometheus.Gauge
}

// NewMetrics creates the collector set and registers it on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biswatch_runs_total",
			Help: "Completed runs, labelled by stop reason.",
		}, []string{"stopped"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "biswatch_run_duration_seconds",
			Help:    "Wall-clock duration of a full run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biswatch_pages_total",
			Help: "Listing pages visited, labelled by outcome.",
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biswatch_page_retries_total",
			Help: "In-run retry attempts across all pages.",
		}),
		cooldownsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biswatch_breaker_cooldowns_total",
			Help: "Circuit breaker cooldown pauses taken mid-run.",
		}),
		recordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biswatch_records_extracted_total",
			Help: "Records parsed out of listing pages before filtering.",
		}),
		recordsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biswatch_records_kept_total",
			Help: "Records that passed the relevance filter.",
		}),
		changesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biswatch_changes_total",
			Help: "Detected record changes, labelled by kind.",
		}, []string{"kind"}),

		stateEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biswatch_state_entries",
			Help: "Records currently tracked in the state store.",
		}),
		failedQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biswatch_failed_queue_depth",
			Help: "Pages waiting in the durable failed-page queue.",
		}),
		baselineComplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biswatch_baseline_complete",
			Help: "1 once the initial full sweep has finished, else 0.",
		}),
		lastRunUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biswatch_last_run_timestamp_seconds",
			Help: "Start time of the most recent run as a Unix timestamp.",
		}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.pagesTotal,
		m.retriesTotal,
		m.cooldownsTotal,
		m.recordsExtracted,
		m.recordsKept,
		m.changesTotal,
		m.stateEntries,
		m.failedQueueDepth,
		m.baselineComplete,
		m.lastRunUnix,
	)
	return m
}

// ObserveRun records the outcome of one finished run.
func (m *Metrics) ObserveRun(report model.RunReport) {
	m.runsTotal.WithLabelValues(string(report.Crawl.Stopped)).Inc()
	m.runDuration.Observe(report.Elapsed().Seconds())

	m.pagesTotal.WithLabelValues("ok").Add(float64(report.Crawl.PagesSucceeded))
	m.pagesTotal.WithLabelValues("empty").Add(float64(len(report.Crawl.EmptyPages)))
	m.pagesTotal.WithLabelValues("error").Add(float64(len(report.Crawl.ErrorPages)))
	m.pagesTotal.WithLabelValues("abandoned").Add(float64(len(report.Crawl.AbandonedPages)))

	m.retriesTotal.Add(float64(report.Crawl.Retries))
	m.cooldownsTotal.Add(float64(report.Crawl.Cooldowns))
	m.recordsExtracted.Add(float64(report.Crawl.RecordsExtracted))
	m.recordsKept.Add(float64(report.RecordsKept))

	m.changesTotal.WithLabelValues(string(model.ChangeNew)).Add(float64(report.NewCount))
	m.changesTotal.WithLabelValues(string(model.ChangeUpdated)).Add(float64(report.UpdatedCount))

	m.stateEntries.Set(float64(report.StateSize))
	m.failedQueueDepth.Set(float64(report.FailedQueueDepth))
	if report.BaselineComplete {
		m.baselineComplete.Set(1)
	} else {
		m.baselineComplete.Set(0)
	}
	m.lastRunUnix.Set(float64(report.StartedAt.Unix()))
}

// Handler serves the private registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
