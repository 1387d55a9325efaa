// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/loom-build/loom/lib/executor"
)

// Theme defines the color palette for loom's terminal output. All
// colors use lipgloss ANSI 256-color codes for broad terminal
// compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Outcome colors.
	Success    lipgloss.Color
	Failed     lipgloss.Color
	Errored    lipgloss.Color
	Aborted    lipgloss.Color
	Suppressed lipgloss.Color

	// Accent for jobs currently occupying a worker slot.
	Running lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	HelpText         lipgloss.Color

	// Background tints for freshly finished job rows in the progress
	// view.
	HotSuccess lipgloss.Color
	HotFailure lipgloss.Color
}

// OutcomeColor returns the color for a job outcome. Suppressed
// failures get their own color so they read as warnings rather than
// errors.
func (theme Theme) OutcomeColor(outcome executor.Outcome, suppressed bool) lipgloss.Color {
	if suppressed && outcome != executor.OutcomeSuccess {
		return theme.Suppressed
	}
	switch outcome {
	case executor.OutcomeSuccess:
		return theme.Success
	case executor.OutcomeFailed:
		return theme.Failed
	case executor.OutcomeErrored:
		return theme.Errored
	case executor.OutcomeAborted:
		return theme.Aborted
	default:
		return theme.NormalText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed
// for 256-color terminals with a dark background.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	Success:    lipgloss.Color("114"), // green
	Failed:     lipgloss.Color("196"), // bright red
	Errored:    lipgloss.Color("208"), // orange: infrastructure, not the code under test
	Aborted:    lipgloss.Color("245"), // gray
	Suppressed: lipgloss.Color("220"), // amber: failed but tolerated
	Running:    lipgloss.Color("75"),  // blue

	HeaderForeground: lipgloss.Color("255"),
	HelpText:         lipgloss.Color("241"),

	HotSuccess: lipgloss.Color("22"), // dark green background tint
	HotFailure: lipgloss.Color("52"), // dark red background tint
}
