package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceCores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i7-12700K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13400F", 6},
		{"Intel(R) Core(TM) i3-14100", 4},
		{"Intel(R) Core(TM) Ultra 7 265K", 8},
		{"Intel(R) Core(TM) Ultra 5 225", 4},
		{"Apple M1", 4},
		{"Apple M2 Max", 12},
		{"Apple M4 Pro", 10},
		{"Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz", 0},
		{"AMD Ryzen 9 7950X 16-Core Processor", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PerformanceCores(tt.brand))
		})
	}
}

func TestThreadCount(t *testing.T) {
	t.Parallel()

	n := runtime.NumCPU()
	assert.Equal(t, 1, ThreadCount(1))
	assert.Equal(t, n, ThreadCount(n+64))

	auto := ThreadCount(0)
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, n)
}

func TestGetOptimalThreadCountFallbacks(t *testing.T) {
	t.Parallel()

	n := runtime.NumCPU()
	assert.Equal(t, min(2, n), CPUSpec{PerformanceCores: 2}.GetOptimalThreadCount())
	assert.Equal(t, min(3, n), CPUSpec{LogicalCores: 3}.GetOptimalThreadCount())
	assert.Equal(t, n, CPUSpec{}.GetOptimalThreadCount())
}
