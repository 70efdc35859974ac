package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// errOut receives status lines. Command results go to cmd.OutOrStdout().
var (
	errOut io.Writer = color.Error
	errMu  sync.Mutex
)

func emit(line string) {
	errMu.Lock()
	defer errMu.Unlock()
	fmt.Fprintln(errOut, line)
}

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

func colorize(c *color.Color, text string) string {
	if noColor {
		return text
	}
	return c.Sprint(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(green, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(red, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(yellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(bold, label+":")
	emit(fmt.Sprintf("  %s %s", l, val))
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(cyan, "→ "+msg))
}
