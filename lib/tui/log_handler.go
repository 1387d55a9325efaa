// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logMsg delivers a slog record to the progress model's status line.
type logMsg struct {
	summary string
	level   slog.Level
}

// noticeFadeMsg clears the status line after a delay.
type noticeFadeMsg struct{}

// noticeFadeDelay is how long log notices stay visible before the
// status line returns to normal.
const noticeFadeDelay = 5 * time.Second

// LogHandler is a slog.Handler that routes records into the progress
// program as status-line messages. While the live view owns the
// terminal, writing log lines to stderr would corrupt the display;
// this handler replaces the text handler for the duration of the run.
//
// Records below the configured level are dropped, as are records
// arriving before SetProgram. Handlers derived via WithAttrs share
// the program pointer, so one SetProgram call covers all of them.
type LogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
}

// NewLogHandler creates a handler delivering records at or above the
// given level. Call SetProgram once the tea.Program exists.
func NewLogHandler(level slog.Level) *LogHandler {
	return &LogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
	}
}

// SetProgram attaches the bubbletea program that receives log
// messages. Safe to call from any goroutine.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

// Enabled reports whether the handler is interested in records at the
// given level.
func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle formats the record as a one-line summary and sends it to the
// program. Records arriving before SetProgram are silently dropped.
func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}
	program.Send(logMsg{
		summary: recordSummary(handler.attrs, record),
		level:   record.Level,
	})
	return nil
}

// WithAttrs returns a derived handler with the attributes appended.
// The derived handler shares the same atomic program pointer.
func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   append(slices.Clone(handler.attrs), attrs...),
	}
}

// WithGroup returns the handler unchanged. Group prefixes add noise
// to a one-line status display; attrs from grouped loggers still
// arrive flat.
func (handler *LogHandler) WithGroup(name string) slog.Handler {
	return handler
}

// recordSummary builds the status line: "message (key=value, ...)".
func recordSummary(attrs []slog.Attr, record slog.Record) string {
	var parts []string
	for _, attr := range attrs {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
		return true
	})

	if len(parts) == 0 {
		return record.Message
	}
	return record.Message + " (" + strings.Join(parts, ", ") + ")"
}
