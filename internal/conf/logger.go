// Package conf provides configuration management for threatwatch.
package conf

import "github.com/tphakala/threatwatch/internal/logger"

// GetLogger returns the config module logger. It is fetched from the global
// logger each time because SetGlobal runs after configuration is loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
