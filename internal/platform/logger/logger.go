// Package logger provides structured logging for the tick server.
// Every line the loop, the transport and the world emit goes through here.
package logger

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Verbosity levels used with Log. Higher numbers are chattier.
const (
	LevelTransport = 2 // socket lifecycle and broadcasts
	LevelWorld     = 3 // simulation step
	LevelPoll      = 4 // readiness poll set, every tick
	LevelLoop      = 5 // per-tick heartbeat
	LevelEvents    = 6 // event handler callbacks
)

// DefaultVerbosity keeps transport lines and drops per-tick noise.
const DefaultVerbosity = LevelTransport

// Options configures a Logger.
type Options struct {
	Output    io.Writer
	Verbosity int
	JSON      bool
}

// Logger provides structured logging with context.
type Logger struct {
	entry     *logrus.Entry
	verbosity int
}

// NewLogger creates a logger writing text to stdout at the default verbosity.
func NewLogger() *Logger {
	return New(Options{Output: os.Stdout, Verbosity: DefaultVerbosity})
}

// New creates a logger from explicit options.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(logrus.InfoLevel)
	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   isTerminal(out),
			DisableColors: !isTerminal(out),
		})
	}

	return &Logger{
		entry:     logrus.NewEntry(base),
		verbosity: opts.Verbosity,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WithField returns a child logger that stamps key=value on every line.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		entry:     l.entry.WithField(key, value),
		verbosity: l.verbosity,
	}
}

// Verbosity returns the highest level Log will emit.
func (l *Logger) Verbosity() int {
	return l.verbosity
}

// Enabled reports whether a Log call at level would be written.
func (l *Logger) Enabled(level int) bool {
	return level <= l.verbosity
}

// Log writes msg when level is within the configured verbosity.
func (l *Logger) Log(msg string, level int) {
	if !l.Enabled(level) {
		return
	}
	l.entry.WithField("v", level).Info(msg)
}

// Info logs informational messages.
func (l *Logger) Info(msg string) {
	l.entry.Info(msg)
}

// Warn logs warning messages.
func (l *Logger) Warn(msg string) {
	l.entry.Warn(msg)
}

// Error logs error messages.
func (l *Logger) Error(msg string) {
	l.entry.Error(msg)
}

// Event logs a simulation or connection event at handler verbosity.
func (l *Logger) Event(eventType string, actorID string, details string) {
	if !l.Enabled(LevelEvents) {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"event": eventType,
		"actor": actorID,
		"v":     LevelEvents,
	}).Info(details)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return New(Options{Output: io.Discard, Verbosity: 0})
}
