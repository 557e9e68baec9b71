// Package color renders terminal output for the speckit CLI.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var state struct {
	once       sync.Once
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init detects whether color should be used. NO_COLOR and TERM=dumb disable
// it; so does noColorFlag. A flag value of true always wins, even after
// detection already ran.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		_, noColor := os.LookupEnv("NO_COLOR")
		state.enabled.Store(!noColor && os.Getenv("TERM") != "dumb")
	})
	if noColorFlag {
		Disable()
	}
}

// Enabled reports whether output is colored.
func Enabled() bool {
	Init(false)
	return state.enabled.Load()
}

// Disable turns off color output.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns on color output.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

// ANSI codes.
const (
	Reset     = "\033[0m"
	Bold      = "\033[1m"
	DimCode   = "\033[2m"
	Underline = "\033[4m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m"
)

type colorFunc func(string) string

func makeColorFunc(codes ...string) colorFunc {
	code := strings.Join(codes, "")
	return func(s string) string {
		if !Enabled() {
			return s
		}
		return code + s + Reset
	}
}

var (
	Redf     = makeColorFunc(Red)
	Greenf   = makeColorFunc(Green)
	Yellowf  = makeColorFunc(Yellow)
	Bluef    = makeColorFunc(Blue)
	Magentaf = makeColorFunc(Magenta)
	Cyanf    = makeColorFunc(Cyan)
	Grayf    = makeColorFunc(Gray)
	Boldf    = makeColorFunc(Bold)
	Dimf     = makeColorFunc(DimCode)
)

// Success formats a success message in green.
func Success(s string) string { return Greenf(s) }

// Successf is Success with printf-style arguments.
func Successf(format string, args ...any) string { return Greenf(fmt.Sprintf(format, args...)) }

// Error formats an error message in red.
func Error(s string) string { return Redf(s) }

// Errorf is Error with printf-style arguments.
func Errorf(format string, args ...any) string { return Redf(fmt.Sprintf(format, args...)) }

// Warning formats a warning in yellow.
func Warning(s string) string { return Yellowf(s) }

// Warningf is Warning with printf-style arguments.
func Warningf(format string, args ...any) string { return Yellowf(fmt.Sprintf(format, args...)) }

// Info formats template names and other identifiers in cyan.
func Info(s string) string { return Cyanf(s) }

// Infof is Info with printf-style arguments.
func Infof(format string, args ...any) string { return Cyanf(fmt.Sprintf(format, args...)) }

// Source formats a template source name in blue.
func Source(s string) string { return Bluef(s) }

// Header formats a header in bold.
func Header(s string) string { return Boldf(s) }

// Dim formats secondary information such as hashes and timestamps.
func Dim(s string) string { return Dimf(s) }

// Code formats commands and paths (bold + dim).
func Code(s string) string {
	if !Enabled() {
		return s
	}
	return Bold + DimCode + s + Reset
}
