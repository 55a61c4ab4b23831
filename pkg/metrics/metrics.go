// Package metrics provides Prometheus instrumentation for deltaflat.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined counters for rows, commits, files and bytes
//   - A stage duration histogram fed by Timer
//   - A rows-per-second throughput gauge fed by ThroughputTracker
//   - Textfile export for node_exporter's textfile collector
//
// # Basic Usage
//
//	timer := metrics.NewTimer("persist")
//	result, err := table.Write(ctx, df, opts)
//	timer.ObserveDuration()
//
//	metrics.RowsProcessed.WithLabelValues("persist").Add(float64(result.RowsWritten))
//
//	// CLI runs are short-lived, so write a snapshot instead of serving /metrics
//	_ = metrics.WriteTextfile("/var/lib/node_exporter/deltaflat.prom")
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

// Commit statuses used as the status label of Commits
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusFailed   = "failed"
)

var (
	// RowsProcessed counts rows leaving each pipeline stage
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deltaflat_rows_total",
			Help: "Total number of rows produced by each stage",
		},
		[]string{"stage"},
	)

	// Commits counts transaction log commit attempts
	Commits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deltaflat_commits_total",
			Help: "Delta log commit attempts by operation and status",
		},
		[]string{"operation", "status"},
	)

	// Files counts data files added, removed, read and vacuumed
	Files = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deltaflat_files_total",
			Help: "Data files touched by action",
		},
		[]string{"action"},
	)

	// BytesWritten counts bytes written to storage
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deltaflat_bytes_written_total",
			Help: "Bytes written to table storage",
		},
		[]string{"kind"}, // data, log
	)

	// StageDuration tracks how long each stage takes
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deltaflat_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"stage"},
	)

	// Throughput is the last measured rows-per-second rate of a stage
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deltaflat_throughput_rows_per_second",
			Help: "Rows per second of the last measured stage run",
		},
		[]string{"stage"},
	)
)

// Timer measures elapsed time for a stage
type Timer struct {
	start time.Time
	stage string
}

// NewTimer creates a new timer and starts timing immediately.
//
// Example:
//
//	timer := metrics.NewTimer("flatten")
//	flat, err := pipeline.Flatten(df)
//	elapsed := timer.ObserveDuration()
func NewTimer(stage string) *Timer {
	return &Timer{
		start: time.Now(),
		stage: stage,
	}
}

// ObserveDuration records the elapsed time in StageDuration and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	StageDuration.WithLabelValues(t.stage).Observe(d.Seconds())
	return d
}

// ThroughputTracker tracks rows per second for a stage.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	stage     string
}

// NewThroughputTracker creates a tracker for stage
func NewThroughputTracker(stage string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		stage:     stage,
	}
}

// Increment adds n to the row count
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset computes rows per second since the last reset, publishes it
// to Throughput and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.stage).Set(throughput)
	return throughput
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metrics textfile").
			WithDetail("path", path)
	}
	return nil
}
