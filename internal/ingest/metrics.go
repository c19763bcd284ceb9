package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/matchlog/internal/fetch"
	"github.com/roach88/matchlog/internal/progress"
	"github.com/roach88/matchlog/internal/record"
)

// MetricsPrefix prefixes every exported metric name.
const MetricsPrefix = "matchlog_"

// Metrics exports controller activity to Prometheus.
// A nil *Metrics records nothing.
type Metrics struct {
	outcomes   *prometheus.CounterVec
	committed  prometheus.Counter
	duplicates prometheus.Counter
	skipped    prometheus.Counter
	failed     *prometheus.CounterVec
	frontier   prometheus.Gauge
	cursor     prometheus.Gauge
	pending    prometheus.Gauge
	inFlight   prometheus.Gauge
	permitWait prometheus.Histogram
	ledgerSave prometheus.Histogram
}

// NewMetrics registers the controller metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "fetch_outcomes_total",
			Help: "Fetch outcomes received, by kind",
		}, []string{"kind"}),
		committed: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_committed_total",
			Help: "Records newly written to the raw store",
		}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_duplicate_total",
			Help: "Successful fetches whose record was already stored",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_skipped_existing_total",
			Help: "IDs resolved from the raw store without a remote call",
		}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_failed_total",
			Help: "IDs given up on, by reason",
		}, []string{"reason"}),
		frontier: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricsPrefix + "frontier",
			Help: "Highest ID below which every ID is resolved",
		}),
		cursor: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricsPrefix + "cursor",
			Help: "Highest ID handed out",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricsPrefix + "pending_retries",
			Help: "IDs waiting to be retried",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricsPrefix + "in_flight",
			Help: "IDs dispatched and awaiting an outcome",
		}),
		permitWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricsPrefix + "permit_wait_seconds",
			Help:    "Time workers spent waiting for a rate permit",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ledgerSave: f.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricsPrefix + "ledger_save_seconds",
			Help:    "Duration of progress ledger saves",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeOutcome(out fetch.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(out.Kind.String()).Inc()
	m.permitWait.Observe(out.Waited.Seconds())
}

func (m *Metrics) observeCommit(written bool) {
	if m == nil {
		return
	}
	if written {
		m.committed.Inc()
	} else {
		m.duplicates.Inc()
	}
}

func (m *Metrics) observeSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *Metrics) observeFailed(reason progress.Reason) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) observeProgress(frontier, cursor record.ID, pending, inFlight int) {
	if m == nil {
		return
	}
	m.frontier.Set(float64(frontier))
	m.cursor.Set(float64(cursor))
	m.pending.Set(float64(pending))
	m.inFlight.Set(float64(inFlight))
}

func (m *Metrics) observeSave(d time.Duration) {
	if m == nil {
		return
	}
	m.ledgerSave.Observe(d.Seconds())
}
