// host.go captures process and host state for admitted records.

package jstrack

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// CaptureHostState captures process and host metrics at the current moment.
// The startTime parameter is used to calculate uptime.
func CaptureHostState(startTime time.Time) *HostState {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hostname, _ := os.Hostname() // empty hostname is acceptable

	uptimeMs := time.Since(startTime).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0
	}

	state := &HostState{
		HostName:       hostname,
		MemoryBytes:    int64(memStats.Alloc),
		GoroutineCount: runtime.NumGoroutine(),
		UptimeMs:       uptimeMs,
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		state.HostMemoryUsedPercent = vm.UsedPercent
	}

	return state
}
