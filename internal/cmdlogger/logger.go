// Package cmdlogger routes slog output to stdout and stderr for CLI use.
package cmdlogger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// CmdLogger is a slog.Handler with the extra knobs the CLI needs to decide
// exit codes and keep structured stdout clean.
type CmdLogger interface {
	slog.Handler

	SendEverythingToStderr()
	SetLevel(level slog.Leveler)
	HasErrored() bool
}

type Handler struct {
	stdout             io.Writer
	stderr             io.Writer
	hasErrored         bool
	everythingToStderr bool
	Level              slog.Leveler
}

func New(stdout, stderr io.Writer) *Handler {
	return &Handler{
		stdout: stdout,
		stderr: stderr,
		Level:  slog.LevelInfo,
	}
}

// SendEverythingToStderr tells the logger to send all logs to stderr
// regardless of their level.
//
// This is useful when stdout carries structured data such as JSON, which
// cannot be mixed with other output.
func (c *Handler) SendEverythingToStderr() {
	c.everythingToStderr = true
}

func (c *Handler) SetLevel(level slog.Leveler) {
	c.Level = level
}

func (c *Handler) writer(level slog.Level) io.Writer {
	if c.everythingToStderr || level == slog.LevelError {
		return c.stderr
	}

	return c.stdout
}

func (c *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.Level.Level()
}

func (c *Handler) Handle(_ context.Context, record slog.Record) error {
	if record.Level == slog.LevelError {
		c.hasErrored = true
	}

	_, err := fmt.Fprint(c.writer(record.Level), record.Message+"\n")

	return err
}

// HasErrored returns true if there have been any calls to Handle with a
// level of [slog.LevelError]
func (c *Handler) HasErrored() bool {
	return c.hasErrored
}

func (c *Handler) WithAttrs(_ []slog.Attr) slog.Handler {
	panic("not supported")
}

func (c *Handler) WithGroup(_ string) slog.Handler {
	panic("not supported")
}

var _ CmdLogger = &Handler{}

// HasErrored returns true if anything has been logged at
// [slog.LevelError] through the default logger, assuming its handler is a
// [CmdLogger].
func HasErrored() bool {
	l, ok := slog.Default().Handler().(CmdLogger)

	if ok {
		return l.HasErrored()
	}

	return false
}

func SetLevel(level slog.Leveler) {
	l, ok := slog.Default().Handler().(CmdLogger)

	if ok {
		l.SetLevel(level)
	}
}
