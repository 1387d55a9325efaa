// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestLogHandlerEnabled(t *testing.T) {
	handler := NewLogHandler(slog.LevelWarn)

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be filtered at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should pass at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should pass at warn level")
	}
}

func TestLogHandlerDropsWithoutProgram(t *testing.T) {
	handler := NewLogHandler(slog.LevelInfo)
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "cache miss", 0)

	if err := handler.Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle without a program returned %v", err)
	}
}

func TestRecordSummary(t *testing.T) {
	record := slog.NewRecord(time.Now(), slog.LevelWarn, "cache restore failed", 0)
	record.AddAttrs(slog.String("key", "a1b2"), slog.Int("attempt", 2))

	handlerAttrs := []slog.Attr{slog.String("job", "rust=stable")}
	got := recordSummary(handlerAttrs, record)
	want := "cache restore failed (job=rust=stable, key=a1b2, attempt=2)"
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}

	bare := slog.NewRecord(time.Now(), slog.LevelInfo, "run started", 0)
	if got := recordSummary(nil, bare); got != "run started" {
		t.Errorf("bare summary = %q", got)
	}
}

func TestLogHandlerWithAttrsDerivation(t *testing.T) {
	root := NewLogHandler(slog.LevelInfo)
	derived := root.WithAttrs([]slog.Attr{slog.String("job", "a")})

	logHandler, ok := derived.(*LogHandler)
	if !ok {
		t.Fatalf("WithAttrs returned %T", derived)
	}
	// Derived handlers share the program pointer, so SetProgram on the
	// root reaches them.
	if logHandler.program != root.program {
		t.Error("derived handler does not share the program pointer")
	}
	if root.WithGroup("sub") != slog.Handler(root) {
		t.Error("WithGroup should return the handler unchanged")
	}
}
