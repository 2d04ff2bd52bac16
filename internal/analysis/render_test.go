package analysis

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/enrollment"
	"github.com/tphakala/threatwatch/internal/prototype"
	"github.com/tphakala/threatwatch/internal/scorer"
)

func TestFormatState(t *testing.T) {
	t.Parallel()

	scored := controller.DetectionState{
		Status:    controller.Recording,
		Cycle:     7,
		Volume:    0.31,
		Distance:  0.4,
		Direction: -0.5,
		Threats: []scorer.CategoryScore{
			{Category: prototype.Gunshot, Label: "Gunshot (verified)", Final: 0.82, Flagged: true},
			{Category: prototype.Chainsaw, Label: "Chainsaw", Final: 0.05},
		},
		Results: []scorer.Ranked{{Label: "Gunshot (verified)", Score: 0.82, Category: prototype.Gunshot}},
	}
	vetoed := scored
	vetoed.Threats = []scorer.CategoryScore{{Category: prototype.Gunshot, Label: "Gunshot", Final: 0, Vetoed: true}}
	vetoed.Results = nil
	vetoed.Direction = 0

	tests := []struct {
		name string
		st   controller.DetectionState
		want string
	}{
		{"idle", controller.DetectionState{Status: controller.Idle}, "[idle]"},
		{"error", controller.DetectionState{Status: controller.Error, Error: "microphone permission denied"}, "[error] error: microphone permission denied"},
		{"no cycle yet", controller.DetectionState{Status: controller.Recording}, "[recording]"},
		{
			"flagged",
			scored,
			"[recording] #7 | Gunshot (verified) 0.82 ALERT | Chainsaw 0.05 | vol 0.31 dist 0.40 dir L0.50 | top Gunshot (verified) 0.82",
		},
		{"vetoed", vetoed, "[recording] #7 | Gunshot 0.00 vetoed | vol 0.31 dist 0.40 dir C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatState(tt.st))
		})
	}
}

func TestFormatDirection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "L0.80", FormatDirection(-0.8))
	assert.Equal(t, "R0.25", FormatDirection(0.25))
	assert.Equal(t, "C", FormatDirection(0.05))
	assert.Equal(t, "C", FormatDirection(-0.1))
}

func TestStatePrinterSkipsRepeats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printState := statePrinter(&buf)
	st := controller.DetectionState{Status: controller.Recording, SessionID: "s1", Cycle: 1}
	printState(st)
	printState(st)
	st.Cycle = 2
	printState(st)
	st.Status = controller.Idle
	printState(st)

	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}

func TestFormatReport(t *testing.T) {
	t.Parallel()

	r := enrollment.Report{
		Files: []enrollment.FileResult{
			{Category: prototype.Gunshot, Path: "gunshot/a.wav", Windows: 2},
			{Category: prototype.Chainsaw, Path: "chainsaw/b.mp3", Err: errors.New("unsupported format")},
		},
		Warnings: []string{"no chainsaw prototypes enrolled"},
		Duration: 1500 * time.Millisecond,
	}
	out := FormatReport(r, "prototypes.json")
	assert.Contains(t, out, "gunshot: 1 prototype(s)")
	assert.Contains(t, out, "chainsaw: 0 prototype(s)")
	assert.Contains(t, out, "skipped chainsaw/b.mp3: unsupported format")
	assert.Contains(t, out, "warning: no chainsaw prototypes enrolled")
	assert.Contains(t, out, "wrote prototypes.json in 1.5s")
}
