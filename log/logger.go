// Package log builds the zerolog loggers used by the rawkv binaries.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type Format uint8

const (
	ConsoleFormat Format = iota
	JSONFormat
)

// ParseFormat accepts "console" and "json". The empty string means console.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "console", "text":
		return ConsoleFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return 0, errors.Newf("log: unknown format %q", s)
	}
}

func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(s)
}

// Options for New
type Options struct {
	Level  zerolog.Level
	Format Format

	// Out defaults to os.Stderr, keeping stdout free for command output.
	Out io.Writer
}

func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = out
	if opts.Format == ConsoleFormat {
		w = newConsoleWriter(out)
	}
	return zerolog.New(w).Level(opts.Level).With().Timestamp().Logger()
}

// Component derives a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}

	cw.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	cw.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
	return cw
}
