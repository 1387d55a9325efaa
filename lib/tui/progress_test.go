// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/scheduler"
)

func applyMsg(t *testing.T, model Model, message tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, command := model.Update(message)
	next, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", updated)
	}
	return next, command
}

func finishedResult(name string, outcome executor.Outcome, suppressed bool) *executor.Result {
	return &executor.Result{
		Spec:       &matrix.Spec{Name: name, Mode: matrix.ModeDefault},
		Outcome:    outcome,
		Suppressed: suppressed,
	}
}

func TestModelLifecycle(t *testing.T) {
	model := NewModel("calloop", 3, nil)

	if view := model.View(); view != "Starting..." {
		t.Errorf("pre-size view = %q", view)
	}

	model, _ = applyMsg(t, model, tea.WindowSizeMsg{Width: 100, Height: 30})

	model, _ = applyMsg(t, model, jobStartedMsg{spec: &matrix.Spec{Name: "rust=stable"}})
	view := model.View()
	if !strings.Contains(view, "rust=stable") {
		t.Error("view should list the running job")
	}
	if !strings.Contains(view, "0/3 done") {
		t.Errorf("view should show 0/3 done:\n%s", view)
	}

	model, _ = applyMsg(t, model, jobFinishedMsg{result: finishedResult("rust=stable", executor.OutcomeSuccess, false)})
	view = model.View()
	if !strings.Contains(view, "1/3 done") {
		t.Errorf("view should show 1/3 done:\n%s", view)
	}
	if !strings.Contains(view, "✓") {
		t.Error("view should mark the finished job")
	}
	if !strings.Contains(view, "1 ok") {
		t.Error("view should count the success")
	}
	if len(model.running) != 0 {
		t.Errorf("running list not cleared: %v", model.running)
	}
}

func TestModelOutcomeBuckets(t *testing.T) {
	model := NewModel("calloop", 4, nil)
	model, _ = applyMsg(t, model, tea.WindowSizeMsg{Width: 100, Height: 30})

	model, _ = applyMsg(t, model, jobFinishedMsg{result: finishedResult("a", executor.OutcomeSuccess, false)})
	model, _ = applyMsg(t, model, jobFinishedMsg{result: finishedResult("b", executor.OutcomeFailed, false)})
	model, _ = applyMsg(t, model, jobFinishedMsg{result: finishedResult("c", executor.OutcomeFailed, true)})
	model, _ = applyMsg(t, model, jobFinishedMsg{result: finishedResult("d", executor.OutcomeErrored, false)})

	if model.succeeded != 1 || model.failed != 1 || model.suppressed != 1 || model.errored != 1 {
		t.Fatalf("buckets = ok %d, failed %d, allowed %d, errored %d",
			model.succeeded, model.failed, model.suppressed, model.errored)
	}

	view := model.View()
	for _, want := range []string{"1 ok", "1 failed", "1 errored", "1 allowed", "4/4 done"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelRecentListCapped(t *testing.T) {
	model := NewModel("calloop", 12, nil)
	model, _ = applyMsg(t, model, tea.WindowSizeMsg{Width: 100, Height: 30})

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, name := range names {
		model, _ = applyMsg(t, model, jobFinishedMsg{result: finishedResult(name, executor.OutcomeSuccess, false)})
	}

	if len(model.recent) != recentLimit {
		t.Fatalf("recent list has %d entries, want %d", len(model.recent), recentLimit)
	}
	// Oldest entries scroll off.
	if jobName(model.recent[0]) != "c" {
		t.Errorf("oldest retained = %q, want c", jobName(model.recent[0]))
	}
}

func TestModelDetachKey(t *testing.T) {
	model := NewModel("calloop", 1, nil)

	_, command := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if command == nil {
		t.Fatal("q should return a command")
	}
	if _, isQuit := command().(tea.QuitMsg); !isQuit {
		t.Errorf("q produced %T, want QuitMsg", command())
	}
}

func TestModelInterruptFiresOnce(t *testing.T) {
	interrupts := 0
	model := NewModel("calloop", 2, func() { interrupts++ })
	model, _ = applyMsg(t, model, tea.WindowSizeMsg{Width: 100, Height: 30})

	model, _ = applyMsg(t, model, tea.KeyMsg{Type: tea.KeyCtrlC})
	model, _ = applyMsg(t, model, tea.KeyMsg{Type: tea.KeyCtrlC})

	if interrupts != 1 {
		t.Fatalf("interrupt callback ran %d times, want 1", interrupts)
	}
	if !strings.Contains(model.View(), "cancelling") {
		t.Error("view should announce cancellation")
	}
}

func TestModelQuitsWhenRunFinishes(t *testing.T) {
	model := NewModel("calloop", 1, nil)
	model, _ = applyMsg(t, model, tea.WindowSizeMsg{Width: 100, Height: 30})

	summary := &scheduler.Summary{Outcome: scheduler.OutcomeSuccess}
	model, command := applyMsg(t, model, runFinishedMsg{summary: summary})
	if command == nil {
		t.Fatal("run finish should return a command")
	}
	if _, isQuit := command().(tea.QuitMsg); !isQuit {
		t.Errorf("run finish produced %T, want QuitMsg", command())
	}
	if !model.done || model.summary != summary {
		t.Error("model did not record the final summary")
	}

	// The redraw loop stops once the run is over.
	if _, command := applyMsg(t, model, tickMsg(time.Now())); command != nil {
		t.Error("finished model should not reschedule ticks")
	}
}

func TestModelTickKeepsRunning(t *testing.T) {
	model := NewModel("calloop", 1, nil)

	if _, command := applyMsg(t, model, tickMsg(time.Now())); command == nil {
		t.Error("live model should reschedule ticks")
	}
}

func TestModelNoticeLifecycle(t *testing.T) {
	model := NewModel("calloop", 1, nil)
	model, _ = applyMsg(t, model, tea.WindowSizeMsg{Width: 100, Height: 30})

	model, command := applyMsg(t, model, logMsg{summary: "cache restore failed (key abc)", level: slog.LevelWarn})
	if command == nil {
		t.Fatal("notice should schedule a fade")
	}
	if !strings.Contains(model.View(), "cache restore failed") {
		t.Error("view should show the notice")
	}

	model, _ = applyMsg(t, model, noticeFadeMsg{})
	if strings.Contains(model.View(), "cache restore failed") {
		t.Error("notice should fade")
	}
}

func TestProgressEventsDropsWithoutProgram(t *testing.T) {
	events := NewProgressEvents()

	// No program attached: events must not panic or block.
	events.RunStarted(3)
	events.JobStarted(&matrix.Spec{Name: "a"})
	events.JobFinished(finishedResult("a", executor.OutcomeSuccess, false))
	events.RunFinished(&scheduler.Summary{})
}
