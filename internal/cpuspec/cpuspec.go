// Package cpuspec picks an inference thread count from the CPU topology.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PerformanceCores int
}

// GetCPUSpec returns CPU specifications including the number of performance cores
func GetCPUSpec() CPUSpec {
	brandName := cpuid.CPU.BrandName
	return CPUSpec{
		BrandName:        brandName,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: PerformanceCores(brandName),
	}
}

// GetOptimalThreadCount prefers performance cores on hybrid CPUs and falls
// back to all logical cores.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()
	if c.PerformanceCores > 0 {
		return min(c.PerformanceCores, available)
	}
	if c.LogicalCores > 0 {
		return min(c.LogicalCores, available)
	}
	return available
}

// ThreadCount resolves a configured thread count. Zero means automatic;
// anything above the visible CPU count is capped.
func ThreadCount(configured int) int {
	available := runtime.NumCPU()
	if configured <= 0 {
		return GetCPUSpec().GetOptimalThreadCount()
	}
	return min(configured, available)
}

var (
	intelCoreRegex  = regexp.MustCompile(`intel.*core.*i[3579]-(1[234]\d)00`)
	intelUltraRegex = regexp.MustCompile(`intel.*core.*ultra\s+[579]\s+(?:processor\s+)?(\d{3})`)
	appleRegex      = regexp.MustCompile(`apple\s+(m[1-4])\s*(pro|max|ultra)?`)
)

// P-core counts by model family. Entries not listed fall back to logical cores.
var (
	intelCorePCores = map[string]int{
		"129": 8, "127": 8, "126": 6, "124": 6, "121": 4,
		"139": 8, "137": 8, "136": 6, "135": 6, "134": 6, "131": 4,
		"149": 8, "147": 8, "146": 6, "144": 6, "141": 4,
	}
	intelUltraPCores = map[string]int{
		"285": 8, "265": 8, "255": 8, "245": 6, "235": 6, "225": 4,
	}
	applePCores = map[string]int{
		"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
		"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
		"m3": 4, "m3 pro": 6, "m3 max": 12, "m3 ultra": 24,
		"m4": 4, "m4 pro": 10, "m4 max": 12,
	}
)

// PerformanceCores returns the P-core count for hybrid Intel and Apple
// Silicon parts, or 0 when the brand is not recognised.
func PerformanceCores(brandName string) int {
	brand := strings.ToLower(brandName)

	if m := intelUltraRegex.FindStringSubmatch(brand); m != nil {
		return intelUltraPCores[m[1]]
	}
	if m := intelCoreRegex.FindStringSubmatch(brand); m != nil {
		return intelCorePCores[m[1]]
	}
	if m := appleRegex.FindStringSubmatch(brand); m != nil {
		key := m[1]
		if m[2] != "" {
			key += " " + m[2]
		}
		return applePCores[key]
	}
	return 0
}
