// Package render draws board snapshots for people: colored terminal frames,
// line-delimited JSON, and one-line command results.
package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
	headerColor  = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.Faint)
)

// classColors maps status classes to terminal colors.
var classColors = map[string]*color.Color{
	"success":   color.New(color.FgGreen),
	"failed":    color.New(color.FgRed, color.Bold),
	"building":  color.New(color.FgCyan),
	"deploying": color.New(color.FgBlue),
	"queued":    color.New(color.FgMagenta),
	"question":  color.New(color.FgYellow),
}

// Success prints a success line to stdout.
func Success(format string, a ...interface{}) {
	successColor.Fprintf(color.Output, "✓ "+format+"\n", a...)
}

// Error prints an error line to stderr.
func Error(format string, a ...interface{}) {
	errorColor.Fprintf(color.Error, "✗ "+format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	infoColor.Fprintf(color.Output, format+"\n", a...)
}

func Warn(format string, a ...interface{}) {
	warnColor.Fprintf(color.Output, "⚠ "+format+"\n", a...)
}

func writeJSON(w io.Writer, v interface{}) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func classColor(class string) *color.Color {
	if c, ok := classColors[class]; ok {
		return c
	}
	return nil
}
