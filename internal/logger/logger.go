// Package logger builds the zerolog logger shared by every component.
//
// Output always goes to a console writer on stdout; when a file is configured
// the same events are appended to it as JSON lines.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mastodon_archiver/internal/config"
)

// New returns a logger for cfg along with a closer for the log file, if any.
func New(cfg config.LogConfig, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	zerolog.TimeFieldFormat = time.RFC3339

	if console == nil {
		console = os.Stdout
	}
	var output io.Writer = zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: "15:04:05",
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file, err := openFile(cfg.File)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		output = zerolog.MultiLevelWriter(output, file)
		closer = file
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("app", "mastodon-archiver").
		Logger()

	return l, closer, nil
}

func openFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// ParseLevel converts a config level name to a zerolog level.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
