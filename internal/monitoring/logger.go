package monitoring

import "log"

// Logf is the driver's progress and summary logger. The simulation packages
// write to their own ops/diag/trace streams instead (traffic.SetLogWriters).
// It defaults to log.Printf; SetLogger replaces it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
