package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a logger for the options.  Output goes to stderr, or
// is appended to File if it is set.  The returned function closes the
// log file and must be called when logging is done.
func (l Logging) NewLogger() (*slog.Logger, func() error, error) {

	var level slog.Level
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", l.Level, err)
		}
	}

	var w io.Writer = os.Stderr
	done := func() error { return nil }
	if l.File != "" {
		fid, err := os.OpenFile(l.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, done = fid, fid.Close
	}

	logger, err := l.newLogger(w, level)
	if err != nil {
		done()
		return nil, nil, err
	}

	return logger, done, nil
}

func (l Logging) newLogger(w io.Writer, level slog.Level) (*slog.Logger, error) {

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}
