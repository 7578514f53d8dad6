package syncengine

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dptsync"

// Run results recorded in dptsync_runs_total.
const (
	RunResultSynced      = "synced"
	RunResultUpToDate    = "up_to_date"
	RunResultDryRun      = "dry_run"
	RunResultFailed      = "failed"
	RunResultInterrupted = "interrupted"
)

// Metrics holds the counters of one engine in its own registry so that
// several engines, such as in tests, never collide.
type Metrics struct {
	Registry *prometheus.Registry

	Actions         *prometheus.CounterVec
	BytesDownloaded prometheus.Counter
	BytesUploaded   prometheus.Counter
	BytesSkipped    prometheus.Counter
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
}

// NewMetrics creates and registers the sync metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "actions_total",
			Help:      "Sync actions applied, by kind.",
		}, []string{"kind"}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_downloaded_total",
			Help:      "Bytes read from the device.",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_uploaded_total",
			Help:      "Bytes written to the device.",
		}),
		BytesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_skipped_total",
			Help:      "Bytes a resumed download found already present locally.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Sync runs, by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	m.Registry.MustRegister(m.Actions, m.BytesDownloaded, m.BytesUploaded, m.BytesSkipped, m.Runs, m.RunDuration)

	return m
}

// ObserveRun records the outcome and duration of one run.
func (m *Metrics) ObserveRun(result string, elapsed time.Duration) {
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// WriteToTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}

	return nil
}
