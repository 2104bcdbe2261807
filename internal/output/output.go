// Package output formats CLI output: status lines, ranked search
// results, and progress for bulk loads.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out io.Writer
}

// New creates an output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a plain status line. Write errors are ignored for
// console output.
func (w *Writer) Status(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

// Statusf prints a formatted status line. An empty prefix argument is
// accepted for call-site symmetry with the other helpers.
func (w *Writer) Statusf(prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		msg = prefix + " " + msg
	}
	w.Status(msg)
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	w.Statusf("ok:", "%s", msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Statusf("warning:", "%s", msg)
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Statusf("error:", "%s", msg)
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Resultf prints a ranked search result line.
func (w *Writer) Resultf(rank int, format string, args ...any) {
	w.Statusf(fmt.Sprintf("%d.", rank), format, args...)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints an in-place progress bar, terminating the line when
// current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("-", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("=", filled) + strings.Repeat("-", width-filled)
}
