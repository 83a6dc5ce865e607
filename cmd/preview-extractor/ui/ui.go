// Package ui provides terminal output helpers for the preview-extractor CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var verboseFlag bool

// Init applies the color and verbosity settings.
func Init(noColor, verbose bool) {
	verboseFlag = verbose
	if noColor {
		color.NoColor = true
	}
}

// Verbose reports whether verbose output is enabled.
func Verbose() bool { return verboseFlag }

// Success displays a success message.
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stderr, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error displays an error message.
func Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning displays a warning message.
func Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info displays an informational message.
func Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stderr, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Detail displays a message only in verbose mode.
func Detail(format string, args ...interface{}) {
	if !verboseFlag {
		return
	}
	color.New(color.FgBlue).Fprintf(os.Stderr, "→ %s\n", fmt.Sprintf(format, args...))
}
