// Package observability wires the Prometheus collectors into one registry
// and exports them as a node_exporter textfile.
package observability

import (
	"sync"

	"github.com/tphakala/threatwatch/internal/logger"
)

var (
	pkgLog     logger.Logger
	pkgLogOnce sync.Once
)

// GetLogger returns the metrics module logger.
func GetLogger() logger.Logger {
	pkgLogOnce.Do(func() {
		pkgLog = logger.Global().Module("metrics")
	})
	return pkgLog
}
