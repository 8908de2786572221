// Package logging wires the process wide slog logger: colored output on the terminal and a
// plain text copy in the log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/onesync/internal/utils"
)

type Options struct {
	// Console receives colored records; colors are dropped when it is not a terminal.
	Console io.Writer
	// File, when set, receives every record as text, appended to what earlier runs wrote.
	File    string
	Verbose bool
}

// New builds the logger described by opts and returns a func that flushes and closes the
// log file.
func New(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlers := fanout{tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isTerminal(console),
	})}

	closer := func() error { return nil }
	if opts.File != "" {
		if err := utils.EnsureParent(opts.File); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		lines := newLineWriter(file)
		handlers = append(handlers, slog.NewTextHandler(lines, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			// the line writer stamps the time
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		}))
		closer = func() error {
			flushErr := lines.Close()
			if err := file.Close(); err != nil {
				return err
			}
			return flushErr
		}
	}

	return slog.New(handlers), closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
