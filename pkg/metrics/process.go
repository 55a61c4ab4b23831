package metrics

import (
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/deltaflat/pkg/errors"
)

var (
	// ProcessMemory is the resident set size sampled after each stage
	ProcessMemory = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deltaflat_process_resident_bytes",
			Help: "Resident memory of the process after a stage",
		},
		[]string{"stage"},
	)

	// ProcessCPU is the process CPU time in seconds sampled after each stage
	ProcessCPU = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deltaflat_process_cpu_seconds",
			Help: "User plus system CPU time of the process after a stage",
		},
		[]string{"stage"},
	)
)

// ResourceUsage is a point-in-time view of process resources
type ResourceUsage struct {
	CPUSeconds            float64
	MemoryRSS             uint64
	MemoryVMS             uint64
	SystemMemoryPercent   float64
	SystemMemoryAvailable uint64
	GoroutineCount        int
	ThreadCount           int32
}

// ResourceMonitor samples resource usage of the current process
type ResourceMonitor struct {
	process *process.Process
}

// NewResourceMonitor attaches to the current process
func NewResourceMonitor() (*ResourceMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to inspect process")
	}
	return &ResourceMonitor{process: proc}, nil
}

// Usage returns the current resource usage. Fields the platform cannot
// report are left zero.
func (rm *ResourceMonitor) Usage() ResourceUsage {
	usage := ResourceUsage{GoroutineCount: runtime.NumGoroutine()}

	if t, err := rm.process.Times(); err == nil {
		usage.CPUSeconds = t.User + t.System
	}
	if m, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = m.RSS
		usage.MemoryVMS = m.VMS
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vm.UsedPercent
		usage.SystemMemoryAvailable = vm.Available
	}
	usage.ThreadCount, _ = rm.process.NumThreads()
	return usage
}

// Record samples usage and stores it in the stage gauges
func (rm *ResourceMonitor) Record(stage string) ResourceUsage {
	usage := rm.Usage()
	ProcessMemory.WithLabelValues(stage).Set(float64(usage.MemoryRSS))
	ProcessCPU.WithLabelValues(stage).Set(usage.CPUSeconds)
	return usage
}
