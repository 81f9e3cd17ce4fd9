// Package monitoring holds the process-wide diagnostic loggers used by the
// gaze pipeline.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var traceEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetTrace turns per-frame trace output on or off.
func SetTrace(enabled bool) {
	traceEnabled.Store(enabled)
}

// TraceEnabled reports whether per-frame tracing is on.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

// Tracef logs through Logf only when tracing is enabled. It is called once per
// gaze sample, so it stays silent by default.
func Tracef(format string, v ...interface{}) {
	if !traceEnabled.Load() {
		return
	}
	Logf(format, v...)
}
