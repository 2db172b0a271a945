// Package logging builds the structured logger used by the command line
// tool.
package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is a slog logger plus the files it owns.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// New returns a logger writing text records at level or above to w. When
// jsonPath is set every record at level or above is also appended to that
// file as JSON.
func New(level slog.Level, w io.Writer, jsonPath string) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(w, opts)}

	l := &Logger{}
	if jsonPath != "" {
		f, err := os.OpenFile(jsonPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		l.closers = append(l.closers, f)
	}

	l.Logger = slog.New(slogmulti.Fanout(handlers...))
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// Close closes any log files.
func (l *Logger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}
