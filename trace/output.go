package trace

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter renders Events as human-readable lines, grounded on
// datalog/annotations/output.go's OutputFormatter: the same
// color-if-terminal detection and per-event-name Format switch, narrowed to
// this package's smaller event set.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
}

// NewOutputFormatter returns a formatter writing to w (os.Stdout if nil),
// coloring output only when w is a terminal.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}
	return &OutputFormatter{useColor: useColor, writer: w}
}

// Handle implements Handler: print each event as it occurs.
func (f *OutputFormatter) Handle(event Event) {
	if line := f.Format(event); line != "" {
		fmt.Fprintln(f.writer, line)
	}
}

// Format converts one Event into a single display line.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)

	switch event.Name {
	case FinalizeBegin:
		return fmt.Sprintf("%s %s finalize: %v", latency, f.colorize("===", color.FgYellow), event.Data["description"])

	case FinalizeComplete:
		if ok, _ := event.Data["success"].(bool); !ok {
			return fmt.Sprintf("%s %s finalize failed: %v", latency, f.colorize("x", color.FgRed), event.Data["error"])
		}
		return fmt.Sprintf("%s %s finalize done", latency, f.colorize("===", color.FgGreen))

	case PhaseBegin:
		return fmt.Sprintf("%s %s %v starting", latency, f.colorize("-->", color.FgCyan), event.Data["phase"])

	case PhaseComplete:
		if ok, _ := event.Data["success"].(bool); !ok {
			return fmt.Sprintf("%s %s %v failed: %v", latency, f.colorize("x", color.FgRed), event.Data["phase"], event.Data["error"])
		}
		return fmt.Sprintf("%s %v completed", latency, event.Data["phase"])

	case TransactionBegin:
		return fmt.Sprintf("%s %s transaction opened (%v)", latency, f.colorize("tx", color.FgBlue), event.Data["mode"])

	case TransactionSettled:
		outcome := fmt.Sprint(event.Data["outcome"])
		if err, ok := event.Data["error"]; ok {
			return fmt.Sprintf("%s %s transaction %s: %v", latency, f.colorize("tx", color.FgRed), outcome, err)
		}
		return fmt.Sprintf("%s %s transaction %s", latency, f.colorize("tx", color.FgGreen), outcome)

	default:
		return fmt.Sprintf("%s %s %v", latency, event.Name, event.Data)
	}
}

// formatLatency formats a duration with color coded by magnitude, the same
// thresholds datalog/annotations/output.go uses.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}
	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// ConsoleHandler returns a Handler printing formatted events to stdout.
func ConsoleHandler() Handler {
	formatter := NewOutputFormatter(os.Stdout)
	return formatter.Handle
}

// isTerminal is a simplified stdout/stderr check, the same shortcut
// datalog/annotations/output.go takes rather than pulling in a terminal
// detection library for this one call site.
func isTerminal(fd uintptr) bool {
	return fd == uintptr(1) || fd == uintptr(2)
}
