// Package monitoring provides the shared diagnostic logger used by the
// analysis stages. Warnings that belong to a result are returned as values;
// Logf is only for operational diagnostics (dropped duplicates, interpolated
// gaps, timing).
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf;
// tests and embedding applications can redirect or mute it via SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
