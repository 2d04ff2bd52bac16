package analysis

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tphakala/threatwatch/internal/controller"
	"github.com/tphakala/threatwatch/internal/enrollment"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// centerBand is the |direction| below which a sound is reported as centered.
const centerBand = 0.1

// FormatState renders one state as a single status line.
func FormatState(st controller.DetectionState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", st.Status)
	if st.Error != "" {
		fmt.Fprintf(&b, " error: %s", st.Error)
		return b.String()
	}
	if st.Cycle == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, " #%d", st.Cycle)
	for _, th := range st.Threats {
		fmt.Fprintf(&b, " | %s %.2f", th.Label, th.Final)
		if th.Vetoed {
			b.WriteString(" vetoed")
		}
		if th.Flagged {
			b.WriteString(" ALERT")
		}
	}
	fmt.Fprintf(&b, " | vol %.2f dist %.2f dir %s", st.Volume, st.Distance, FormatDirection(st.Direction))
	if len(st.Results) > 0 {
		top := st.Results[0]
		fmt.Fprintf(&b, " | top %s %.2f", top.Label, top.Score)
	}
	return b.String()
}

// FormatDirection renders a stereo direction as L, R or C with magnitude.
func FormatDirection(d float64) string {
	switch {
	case d < -centerBand:
		return fmt.Sprintf("L%.2f", -d)
	case d > centerBand:
		return fmt.Sprintf("R%.2f", d)
	default:
		return "C"
	}
}

// statePrinter writes one line per new cycle or status change. Repeated
// publications of the same cycle are skipped.
func statePrinter(w io.Writer) Renderer {
	var last string
	return func(st controller.DetectionState) {
		key := fmt.Sprintf("%s/%d/%s", st.SessionID, st.Cycle, st.Status)
		if key == last {
			return
		}
		last = key
		fmt.Fprintln(w, FormatState(st))
	}
}

// FormatReport summarizes an enrollment run.
func FormatReport(r enrollment.Report, out string) string {
	var b strings.Builder
	for _, c := range prototype.Categories {
		fmt.Fprintf(&b, "%s: %d prototype(s)\n", c, r.Enrolled(c))
	}
	for _, f := range r.Skipped() {
		fmt.Fprintf(&b, "skipped %s: %v\n", f.Path, f.Err)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	fmt.Fprintf(&b, "wrote %s in %s\n", out, r.Duration.Round(time.Millisecond))
	return b.String()
}
