// Package debug provides debug logging for the broker.
// Debug mode is enabled via BROKER_DEBUG=1 or automatically when
// ENV is unset or "development".
package debug

import (
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	enabled     bool
	enabledOnce sync.Once
)

// IsEnabled returns true if debug mode is active. Checks BROKER_DEBUG
// on first call and caches the result.
func IsEnabled() bool {
	enabledOnce.Do(func() {
		v := os.Getenv("BROKER_DEBUG")
		if v != "" {
			enabled = v == "1" || v == "true"
		} else {
			env := os.Getenv("ENV")
			enabled = env == "" || env == "development"
		}
		if enabled {
			log.Printf("[DEBUG] debug mode enabled")
		}
	})
	return enabled
}

// Log logs a debug message tagged by subsystem if debug mode is
// enabled. Subsystems: access, hub, store, session, admin.
func Log(category, format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	log.Printf("[DEBUG %s] %s", category, fmt.Sprintf(format, args...))
}

// Warn logs a warning message tagged by subsystem if debug mode is
// enabled.
func Warn(category, format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	log.Printf("[WARN  %s] %s", category, fmt.Sprintf(format, args...))
}
