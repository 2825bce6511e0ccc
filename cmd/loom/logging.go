package main

import (
	"log/slog"
	"os"

	"github.com/samcharles93/loom/internal/logger"
)

// newLogger builds the process logger from the logging flags. The "auto"
// format picks pretty output on a terminal and JSON otherwise.
func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	format := logFormat
	if format == "auto" {
		if isTerminal(os.Stderr.Fd()) {
			format = "pretty"
		} else {
			format = "json"
		}
	}
	switch format {
	case "json":
		return logger.JSON(os.Stderr, level)
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
