// Package verbose gates raw wire tracing (CI-V frames, rigctld lines, UDP
// datagrams) behind a single process-wide flag, separate from the leveled
// application log.
package verbose

import "log"

var enabled bool

// SetEnabled sets the global verbose tracing flag
func SetEnabled(enable bool) {
	enabled = enable
}

// IsEnabled returns whether verbose tracing is enabled
func IsEnabled() bool {
	return enabled
}

// Printf prints a trace message if verbose tracing is enabled
func Printf(format string, args ...interface{}) {
	if enabled {
		log.Printf("[VERBOSE] "+format, args...)
	}
}
