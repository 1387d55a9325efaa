// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger builds the structured logger for a command
// invocation. Level is one of debug, info, warn, error; format is
// auto, text, or json. With auto, a terminal on stderr gets
// human-readable text output and anything piped or redirected (CI,
// scripts) gets JSON lines.
//
// Commands scope the logger with invocation context via With():
//
//	logger := cli.NewCommandLogger(cfg.Log.Level, cfg.Log.Format).With(
//	    "run_id", runID,
//	)
func NewCommandLogger(level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(level)}

	useText := format == "text"
	if format == "auto" {
		useText = term.IsTerminal(int(os.Stderr.Fd()))
	}

	var handler slog.Handler
	if useText {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
