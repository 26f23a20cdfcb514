// Package debug is the ambient logger used across dev-sessions packages.
//
// It is deliberately not a structured-logging framework: every component in
// this repo is a short-lived CLI invocation or a small background
// goroutine, and `DEV_SESSIONS_DEBUG=1` gives enough signal for both without
// the overhead of a logging dependency.
package debug

import (
	"fmt"
	"os"
	"sync"
)

var (
	enabled     = os.Getenv("DEV_SESSIONS_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

// Enabled reports whether debug output is currently on.
func Enabled() bool {
	logMutex.Lock()
	defer logMutex.Unlock()
	return enabled || verboseMode
}

// SetVerbose turns verbose/debug output on or off for the process lifetime.
func SetVerbose(verbose bool) {
	logMutex.Lock()
	defer logMutex.Unlock()
	verboseMode = verbose
}

// SetQuiet suppresses normal (non-essential) output.
func SetQuiet(quiet bool) {
	logMutex.Lock()
	defer logMutex.Unlock()
	quietMode = quiet
}

// IsQuiet reports whether quiet mode is enabled.
func IsQuiet() bool {
	logMutex.Lock()
	defer logMutex.Unlock()
	return quietMode
}

// Logf writes to stderr when debug output is enabled.
func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Printf writes to stdout when debug output is enabled.
func Printf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Printf(format, args...)
	}
}

// PrintNormal writes informational output unless quiet mode is set.
func PrintNormal(format string, args ...interface{}) {
	if !IsQuiet() {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal writes a line unless quiet mode is set.
func PrintlnNormal(args ...interface{}) {
	if !IsQuiet() {
		fmt.Println(args...)
	}
}
