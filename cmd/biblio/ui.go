package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// initColor disables fatih/color's ANSI output when stdout isn't a TTY or
// the operator passed --no-color / set NO_COLOR, mirroring the teacher
// pack's isatty-gated color convention rather than always-on escape codes.
func initColor(noColor bool) {
	color.NoColor = noColor || !isatty.IsTerminal(os.Stdout.Fd())
}

var (
	successColor = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printFail(format string, args ...interface{}) {
	failColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarn(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, format+"\n", args...)
}
