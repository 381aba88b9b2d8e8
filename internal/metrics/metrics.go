// Package metrics exposes Prometheus collectors for table I/O, saving,
// plan optimization and materialization. Collectors register with the
// default registry on package init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sframe_blocks_written_total",
			Help: "Storage blocks written, by column type",
		},
		[]string{"type"},
	)

	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sframe_bytes_written_total",
			Help: "Bytes of block payload written to segment files",
		},
	)

	BlocksRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sframe_blocks_read_total",
			Help: "Storage blocks decoded, by column type",
		},
		[]string{"type"},
	)

	Saves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sframe_saves_total",
			Help: "Table saves, by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	SaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sframe_save_duration_seconds",
			Help:    "Duration of table saves",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"strategy"},
	)

	OptimizerRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sframe_optimizer_rewrites_total",
			Help: "Plan rewrites applied, by rule",
		},
		[]string{"rule"},
	)

	OptimizerIterationLimit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sframe_optimizer_iteration_limit_total",
			Help: "Optimizer runs stopped by the iteration cap",
		},
	)

	RowsMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sframe_rows_materialized_total",
			Help: "Rows produced by plan materialization, by mode",
		},
		[]string{"mode"},
	)

	MaterializeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sframe_materialize_duration_seconds",
			Help:    "Duration of plan materialization, by mode",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"mode"},
	)
)

// Timer measures an operation for a histogram observation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on h and returns it.
func (t *Timer) ObserveDuration(h prometheus.Observer) time.Duration {
	d := time.Since(t.start)
	h.Observe(d.Seconds())
	return d
}
