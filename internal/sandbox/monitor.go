package sandbox

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSample is one point-in-time reading of the supervised process's
// resource usage (§4.5 "resource monitoring").
type ResourceSample struct {
	At           time.Time
	MemoryMB     float64
	CPUPercent   float64
	OpenFDs      int32
	NumGoroutine int
}

// ResourceMonitor samples a process's memory and CPU usage on an interval,
// replacing the teacher's hostinfo.go (which depended on jaypipes/ghw and
// gopsutil/mem, neither present in go.mod) with a gopsutil/v4-backed
// implementation scoped to exactly what the Sandbox Supervisor needs:
// this process's own memory footprint, not host-wide hardware inventory.
type ResourceMonitor struct {
	proc *process.Process
}

// NewResourceMonitor attaches a monitor to pid (typically os.Getpid(), or
// the chromedp-launched browser's child pid when that process is what's
// being bounded).
func NewResourceMonitor(pid int32) (*ResourceMonitor, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	return &ResourceMonitor{proc: p}, nil
}

// Sample reads current memory/CPU for the monitored process.
func (m *ResourceMonitor) Sample(ctx context.Context) (ResourceSample, error) {
	memInfo, err := m.proc.MemInfoWithContext(ctx)
	if err != nil {
		return ResourceSample{}, err
	}
	cpuPct, err := m.proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPct = 0
	}
	fds, err := m.proc.NumFDsWithContext(ctx)
	if err != nil {
		fds = 0
	}
	return ResourceSample{
		At:         time.Now(),
		MemoryMB:   float64(memInfo.RSS) / (1024 * 1024),
		CPUPercent: cpuPct,
		OpenFDs:    fds,
	}, nil
}
