package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerObservesStage(t *testing.T) {
	before := testutil.CollectAndCount(StageDuration)

	timer := NewTimer("test_stage")
	time.Sleep(time.Millisecond)
	d := timer.ObserveDuration()

	assert.GreaterOrEqual(t, d, time.Millisecond)
	assert.Equal(t, before+1, testutil.CollectAndCount(StageDuration))
}

func TestCounters(t *testing.T) {
	start := testutil.ToFloat64(Commits.WithLabelValues("WRITE", StatusConflict))
	Commits.WithLabelValues("WRITE", StatusConflict).Inc()
	assert.Equal(t, start+1, testutil.ToFloat64(Commits.WithLabelValues("WRITE", StatusConflict)))

	RowsProcessed.WithLabelValues("test_rows").Add(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(RowsProcessed.WithLabelValues("test_rows")))
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("test_throughput")
	tracker.Increment(100)
	time.Sleep(5 * time.Millisecond)

	rate := tracker.GetAndReset()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, rate, testutil.ToFloat64(Throughput.WithLabelValues("test_throughput")))
}

func TestWriteTextfile(t *testing.T) {
	Files.WithLabelValues("add").Inc()

	path := filepath.Join(t.TempDir(), "deltaflat.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "deltaflat_files_total")

	assert.Error(t, WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom")))
}

func TestResourceMonitor(t *testing.T) {
	rm, err := NewResourceMonitor()
	require.NoError(t, err)

	usage := rm.Record("test_resources")
	assert.Positive(t, usage.GoroutineCount)
	assert.Equal(t, float64(usage.MemoryRSS), testutil.ToFloat64(ProcessMemory.WithLabelValues("test_resources")))
	assert.Equal(t, usage.CPUSeconds, testutil.ToFloat64(ProcessCPU.WithLabelValues("test_resources")))
}
