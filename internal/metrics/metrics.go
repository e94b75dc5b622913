// Package metrics exposes Prometheus instruments for the recipe index.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the index instruments.
type Metrics struct {
	entries        prometheus.Gauge
	rebuilds       *prometheus.CounterVec
	rebuildSeconds prometheus.Histogram
	parseFailures  prometheus.Counter
}

// New registers the index instruments with r.
func New(r prometheus.Registerer) *Metrics {
	return &Metrics{
		entries: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "cookshelf_index_entries",
			Help: "Number of recipes currently held in the index",
		}),
		rebuilds: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "cookshelf_index_rebuilds_total",
			Help: "Full index rebuilds by outcome",
		}, []string{"result"}),
		rebuildSeconds: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "cookshelf_index_rebuild_duration_seconds",
			Help:    "Duration of full index rebuilds",
			Buckets: prometheus.DefBuckets,
		}),
		parseFailures: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "cookshelf_index_parse_failures_total",
			Help: "Recipes skipped because their metadata could not be extracted",
		}),
	}
}

// SetEntries records the current index size.
func (m *Metrics) SetEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

// ObserveRebuild records one rebuild and its outcome.
func (m *Metrics) ObserveRebuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rebuilds.WithLabelValues(result).Inc()
	m.rebuildSeconds.Observe(d.Seconds())
}

// IncParseFailures counts one skipped recipe.
func (m *Metrics) IncParseFailures() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}
