// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/loom-build/loom/lib/deploy"
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/scheduler"
)

// RenderSummary writes the per-job results table and the aggregate
// verdict to w. Styling follows the destination: a terminal gets
// color, a redirected stream gets plain text.
func RenderSummary(w io.Writer, theme Theme, summary *scheduler.Summary) {
	renderer := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	faint := renderer.NewStyle().Foreground(theme.FaintText)
	header := renderer.NewStyle().Foreground(theme.HeaderForeground).Bold(true)

	nameWidth := len("job")
	outcomeWidth := 0
	for _, result := range summary.Results {
		if n := len(jobName(result)); n > nameWidth {
			nameWidth = n
		}
		if n := len(outcomeLabel(result)); n > outcomeWidth {
			outcomeWidth = n
		}
	}

	fmt.Fprintf(w, "\n%s\n", header.Render("run summary"))
	for _, result := range summary.Results {
		outcomeStyle := renderer.NewStyle().
			Foreground(theme.OutcomeColor(result.Outcome, result.Suppressed))

		// Pad before styling: ANSI escapes would break %-*s width math.
		fmt.Fprintf(w, "  %-*s  %s  %s",
			nameWidth, jobName(result),
			outcomeStyle.Render(fmt.Sprintf("%-*s", outcomeWidth, outcomeLabel(result))),
			faint.Render(formatDuration(result.Duration())))
		if result.FailureReason != "" {
			fmt.Fprintf(w, "  %s", faint.Render(result.FailureReason))
		}
		fmt.Fprintln(w)
	}

	verdict := renderer.NewStyle().Bold(true).
		Foreground(aggregateColor(theme, summary.Outcome)).
		Render(strings.ToUpper(string(summary.Outcome)))
	fmt.Fprintf(w, "\n%s  %s  %s\n",
		verdict,
		countsSummary(summary),
		faint.Render("in "+formatDuration(summary.Duration())))
}

// RenderDeploy writes the deploy gate's resolution under the summary.
func RenderDeploy(w io.Writer, theme Theme, decision deploy.Decision, deployErr error) {
	renderer := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	faint := renderer.NewStyle().Foreground(theme.FaintText)

	switch {
	case deployErr != nil:
		style := renderer.NewStyle().Foreground(theme.Failed).Bold(true)
		fmt.Fprintf(w, "%s  %v\n", style.Render("deploy failed"), deployErr)
	case decision.Fire:
		style := renderer.NewStyle().Foreground(theme.Success).Bold(true)
		fmt.Fprintf(w, "%s  %s\n", style.Render("deployed"), faint.Render(decision.Reason))
	default:
		fmt.Fprintf(w, "%s  %s\n", faint.Render("deploy skipped"), faint.Render(decision.Reason))
	}
}

func outcomeLabel(result *executor.Result) string {
	label := string(result.Outcome)
	if result.Suppressed {
		label += " (allowed)"
	}
	return label
}

func countsSummary(summary *scheduler.Summary) string {
	parts := []string{fmt.Sprintf("%d ok", summary.Succeeded)}
	if summary.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", summary.Failed))
	}
	if summary.Errored > 0 {
		parts = append(parts, fmt.Sprintf("%d errored", summary.Errored))
	}
	if summary.Aborted > 0 {
		parts = append(parts, fmt.Sprintf("%d aborted", summary.Aborted))
	}
	if summary.Suppressed > 0 {
		parts = append(parts, fmt.Sprintf("%d allowed", summary.Suppressed))
	}
	return strings.Join(parts, ", ")
}

func aggregateColor(theme Theme, outcome scheduler.Outcome) lipgloss.Color {
	switch outcome {
	case scheduler.OutcomeSuccess:
		return theme.Success
	case scheduler.OutcomeAborted:
		return theme.Aborted
	default:
		return theme.Failed
	}
}

// jobName is nil-safe: results synthesized for never-started jobs may
// carry less spec detail than executed ones.
func jobName(result *executor.Result) string {
	if result == nil || result.Spec == nil {
		return "(unknown job)"
	}
	return result.Spec.Name
}

// formatDuration renders at second granularity, switching to
// milliseconds under one second.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
