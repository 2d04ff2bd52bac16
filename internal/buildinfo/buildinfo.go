// Package buildinfo holds the version metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/tphakala/threatwatch/internal/buildinfo.version=v1.2.0 \
//	    -X github.com/tphakala/threatwatch/internal/buildinfo.buildDate=2026-10-18"
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata that was not stamped.
const UnknownValue = "unknown"

var (
	version   string
	buildDate string
)

// Info is the build metadata of the running binary
type Info struct {
	Version   string
	BuildDate string
	GoVersion string
}

// Current returns the stamped metadata, with UnknownValue for gaps.
func Current() Info {
	return newInfo(version, buildDate)
}

func newInfo(v, date string) Info {
	if v == "" {
		v = UnknownValue
	}
	if date == "" {
		date = UnknownValue
	}
	return Info{Version: v, BuildDate: date, GoVersion: runtime.Version()}
}

// Release is the Sentry release name.
func (i Info) Release() string {
	return "threatwatch@" + i.Version
}

func (i Info) String() string {
	return fmt.Sprintf("threatwatch %s (built %s, %s)", i.Version, i.BuildDate, i.GoVersion)
}
