// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui renders loom's terminal output: the live progress view
// shown during a run and the summary table printed when it finishes.
//
// The progress view is a bubbletea model fed by the scheduler through
// a ProgressEvents adapter. Worker goroutines publish job starts and
// finishes as program messages, so the model itself stays
// single-threaded. While the view is active, slog records route
// through LogHandler into its status line instead of corrupting the
// display.
//
// The summary table renders through a lipgloss renderer bound to its
// destination writer, so colors degrade to plain text automatically
// when output is redirected.
package tui
