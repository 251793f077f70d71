package helpers

import (
	"runtime"
	"runtime/debug"
)

// GetRecommendedMemoryLimit returns a soft heap limit in MB: 75% of total
// RAM, at least 512MB when the host has that much, 512MB when unknown.
func GetRecommendedMemoryLimit() int {
	totalMB := GetTotalSystemMemoryMB()
	if totalMB == 0 {
		return 512
	}

	limit := int(float64(totalMB) * 0.75)
	if limit < 512 {
		if totalMB < 512 {
			return totalMB
		}
		return 512
	}
	return limit
}

// -----------------------------------------------------------------------------

// ApplyMemoryLimit installs the recommended soft limit on the Go runtime and
// returns it in MB.
func ApplyMemoryLimit() int {
	limit := GetRecommendedMemoryLimit()
	debug.SetMemoryLimit(int64(limit) << 20)
	return limit
}

// -----------------------------------------------------------------------------

// ProcessMemoryMB reports heap in use and goroutine count for the stats job.
func ProcessMemoryMB() (heapMB float64, goroutines int) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapInuse) / (1 << 20), runtime.NumGoroutine()
}
