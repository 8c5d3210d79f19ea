package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/NuxGame/dbfailover/internal/config"
)

// nopCloser is returned for stdout/stderr outputs, which must not be closed.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup builds the process logger from the logging config. The returned
// LevelVar is shared with the handler so the config reloader can adjust
// verbosity at runtime; the returned Closer owns the log file, if any.
func Setup(cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening log output: %w", err)
		}
		out = rw
		closer = rw
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, level, closer, nil
}
