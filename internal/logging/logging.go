// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Options selects level, output format and an optional log file.
type Options struct {
	Level  string
	Format string
	File   string
}

// New returns a logger and a close func for the underlying file, if any.
// An empty File logs to stderr.
func New(opts Options) (*log.Logger, func() error, error) {
	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closeFn = f.Close
	}
	logger, err := newWithWriter(w, opts)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}

func newWithWriter(w io.Writer, opts Options) (*log.Logger, error) {
	level := log.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		l, err := log.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", s, err)
		}
		level = l
	}
	var formatter log.Formatter
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		Prefix:          "docqa",
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger { return log.New(io.Discard) }
