package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version string
		date    string
		want    string
		release string
	}{
		{"unstamped", "", "", "threatwatch unknown (built unknown, " + runtime.Version() + ")", "threatwatch@unknown"},
		{"stamped", "v1.2.0", "2026-10-18", "threatwatch v1.2.0 (built 2026-10-18, " + runtime.Version() + ")", "threatwatch@v1.2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := newInfo(tt.version, tt.date)
			assert.Equal(t, tt.want, info.String())
			assert.Equal(t, tt.release, info.Release())
		})
	}
}
