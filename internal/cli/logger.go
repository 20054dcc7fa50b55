package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Logger writes colored, leveled lines. Debug lines appear only when
// verbose is set. It satisfies client.Logger.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	warn  func(a ...any) string
	fail  func(a ...any) string
	ok    func(a ...any) string
	debug func(a ...any) string
}

func NewLogger(out io.Writer, verbose bool) *Logger {
	return &Logger{
		out:     out,
		verbose: verbose,
		warn:    color.New(color.FgYellow).SprintFunc(),
		fail:    color.New(color.FgRed, color.Bold).SprintFunc(),
		ok:      color.New(color.FgGreen).SprintFunc(),
		debug:   color.New(color.Faint).SprintFunc(),
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	l.line(l.warn("warn"), format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.line(l.debug("debug"), format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.line(l.fail("error"), format, args...)
}

func (l *Logger) Successf(format string, args ...any) {
	l.line(l.ok("done"), format, args...)
}

func (l *Logger) line(tag, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s\n", tag, fmt.Sprintf(format, args...))
}
