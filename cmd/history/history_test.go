package history

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	incidents "github.com/tphakala/threatwatch/internal/history"
	"github.com/tphakala/threatwatch/internal/prototype"
)

func TestRender(t *testing.T) {
	t.Parallel()

	recent := []incidents.Incident{
		{Category: "gunshot", Label: "Gunshot (verified)", Score: 0.91, Distance: 0.2, Direction: 0.6, DetectedAt: time.Now()},
		{Category: "chainsaw", Label: "Chainsaw", Score: 0.7, Distance: 0.8, DetectedAt: time.Now()},
	}
	counts := map[prototype.Category]int64{prototype.Gunshot: 4}

	var out bytes.Buffer
	require.NoError(t, render(&out, recent, counts, 24*time.Hour))

	s := out.String()
	assert.Contains(t, s, "CATEGORY")
	assert.Contains(t, s, "Gunshot (verified)")
	assert.Contains(t, s, "R0.60")
	assert.Contains(t, s, "last 24h0m0s: gunshot 4 chainsaw 0")
}
