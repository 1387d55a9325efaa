// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/scheduler"
)

// jobStartedMsg announces a job entering a worker slot.
type jobStartedMsg struct {
	spec *matrix.Spec
}

// jobFinishedMsg delivers a finished job's result.
type jobFinishedMsg struct {
	result *executor.Result
}

// runFinishedMsg delivers the final summary and ends the program.
type runFinishedMsg struct {
	summary *scheduler.Summary
}

// tickMsg drives elapsed-time and heat-decay redraws.
type tickMsg time.Time

// tickInterval is the redraw cadence while the run is live. One
// second matches the granularity of the elapsed times on display.
const tickInterval = time.Second

// recentLimit caps the finished-jobs list in the view; older results
// scroll off but stay in the report.
const recentLimit = 6

// ProgressEvents adapts scheduler events into bubbletea messages. It
// implements scheduler.Events; worker goroutines call it concurrently
// and program.Send is safe from any goroutine.
//
// Create the adapter before the program, then call SetProgram once
// the tea.Program exists. Events arriving before that are dropped.
type ProgressEvents struct {
	program *atomic.Pointer[tea.Program]
}

var _ scheduler.Events = (*ProgressEvents)(nil)

// NewProgressEvents creates an adapter with no program attached.
func NewProgressEvents() *ProgressEvents {
	return &ProgressEvents{program: &atomic.Pointer[tea.Program]{}}
}

// SetProgram attaches the bubbletea program that receives events.
// Safe to call from any goroutine.
func (events *ProgressEvents) SetProgram(program *tea.Program) {
	events.program.Store(program)
}

func (events *ProgressEvents) send(message tea.Msg) {
	if program := events.program.Load(); program != nil {
		program.Send(message)
	}
}

// RunStarted is a no-op: the model learns the job total at
// construction, before the program starts.
func (events *ProgressEvents) RunStarted(total int) {}

// JobStarted forwards a job start to the view.
func (events *ProgressEvents) JobStarted(spec *matrix.Spec) {
	events.send(jobStartedMsg{spec: spec})
}

// JobFinished forwards a job result to the view.
func (events *ProgressEvents) JobFinished(result *executor.Result) {
	events.send(jobFinishedMsg{result: result})
}

// RunFinished forwards the summary; the view renders its final frame
// and quits.
func (events *ProgressEvents) RunFinished(summary *scheduler.Summary) {
	events.send(runFinishedMsg{summary: summary})
}

// KeyMap defines the progress view's key bindings.
type KeyMap struct {
	Detach    key.Binding // Leave the view; the run continues.
	Interrupt key.Binding // Request run cancellation.
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	Detach: key.NewBinding(
		key.WithKeys("q"),
		key.WithHelp("q", "detach"),
	),
	Interrupt: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "cancel run"),
	),
}

// runningJob tracks one job occupying a worker slot.
type runningJob struct {
	name    string
	started time.Time
}

// Model is the bubbletea model for the live progress view. All state
// changes happen on the program goroutine; workers only enqueue
// messages.
type Model struct {
	theme Theme
	keys  KeyMap

	pipeline string
	total    int

	width int
	ready bool

	running []runningJob
	recent  []*executor.Result
	heat    *HeatTracker

	succeeded  int
	failed     int
	errored    int
	aborted    int
	suppressed int

	started time.Time
	now     time.Time

	notice      string
	noticeLevel slog.Level

	interrupt   func()
	interrupted bool

	done    bool
	summary *scheduler.Summary
}

// NewModel creates the progress view for a run of total jobs. The
// interrupt callback is invoked at most once when the user requests
// cancellation; pass the run context's cancel function.
func NewModel(pipeline string, total int, interrupt func()) Model {
	now := time.Now()
	return Model{
		theme:     DefaultTheme,
		keys:      DefaultKeyMap,
		pipeline:  pipeline,
		total:     total,
		heat:      NewHeatTracker(),
		started:   now,
		now:       now,
		interrupt: interrupt,
	}
}

// Init schedules the first redraw tick.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles one message. Value receiver: the mutated copy is
// returned, per the bubbletea contract.
func (m Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.ready = true

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Detach):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Interrupt):
			if !m.interrupted {
				m.interrupted = true
				if m.interrupt != nil {
					m.interrupt()
				}
			}
		}

	case tickMsg:
		m.now = time.Time(msg)
		if !m.done {
			return m, tick()
		}

	case jobStartedMsg:
		if msg.spec != nil {
			m.running = append(m.running, runningJob{name: msg.spec.Name, started: m.now})
		}

	case jobFinishedMsg:
		m.finishJob(msg.result)

	case runFinishedMsg:
		m.done = true
		m.summary = msg.summary
		return m, tea.Quit

	case logMsg:
		m.notice = msg.summary
		m.noticeLevel = msg.level
		return m, tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
			return noticeFadeMsg{}
		})

	case noticeFadeMsg:
		m.notice = ""
	}

	return m, nil
}

// finishJob moves a job from the running list to the recent list and
// bumps the outcome counters.
func (m *Model) finishJob(result *executor.Result) {
	if result == nil {
		return
	}
	name := jobName(result)
	m.running = slices.DeleteFunc(m.running, func(job runningJob) bool {
		return job.name == name
	})

	switch {
	case result.Outcome == executor.OutcomeSuccess:
		m.succeeded++
	case result.Suppressed:
		m.suppressed++
	case result.Outcome == executor.OutcomeFailed:
		m.failed++
	case result.Outcome == executor.OutcomeErrored:
		m.errored++
	default:
		m.aborted++
	}

	kind := HeatSuccess
	if result.CountsAsFailure() {
		kind = HeatFailure
	}
	m.heat.Ignite(name, kind, m.now)

	m.recent = append(m.recent, result)
	if len(m.recent) > recentLimit {
		m.recent = m.recent[len(m.recent)-recentLimit:]
	}
}

func (m Model) completed() int {
	return m.succeeded + m.failed + m.errored + m.aborted + m.suppressed
}

// View renders the progress display.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.theme.HeaderForeground).Bold(true)
	faint := lipgloss.NewStyle().Foreground(m.theme.FaintText)
	help := lipgloss.NewStyle().Foreground(m.theme.HelpText)
	runningStyle := lipgloss.NewStyle().Foreground(m.theme.Running)

	var view strings.Builder

	elapsed := m.now.Sub(m.started).Round(time.Second)
	fmt.Fprintf(&view, "%s  %d/%d done  %s\n",
		headerStyle.Render(m.pipeline),
		m.completed(), m.total,
		faint.Render("elapsed "+elapsed.String()))
	view.WriteString("  " + m.countsLine() + "\n")

	for _, job := range m.running {
		fmt.Fprintf(&view, "  %s %s %s\n",
			runningStyle.Render("▸"),
			job.name,
			faint.Render(m.now.Sub(job.started).Round(time.Second).String()))
	}

	for _, result := range m.recent {
		view.WriteString("  " + m.resultLine(result, faint) + "\n")
	}

	if m.interrupted && !m.done {
		view.WriteString(lipgloss.NewStyle().Foreground(m.theme.Aborted).
			Render("cancelling: waiting for running jobs") + "\n")
	}
	if m.notice != "" {
		noticeColor := m.theme.Suppressed
		if m.noticeLevel >= slog.LevelError {
			noticeColor = m.theme.Failed
		}
		view.WriteString(lipgloss.NewStyle().Foreground(noticeColor).Render(m.notice) + "\n")
	}

	view.WriteString(help.Render("q detach · C-c cancel run"))
	return view.String()
}

// countsLine renders the outcome breakdown, hiding empty negative
// buckets so the common all-green case stays one short phrase.
func (m Model) countsLine() string {
	parts := []string{
		lipgloss.NewStyle().Foreground(m.theme.Success).Render(fmt.Sprintf("%d ok", m.succeeded)),
	}
	if m.failed > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Failed).
			Render(fmt.Sprintf("%d failed", m.failed)))
	}
	if m.errored > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Errored).
			Render(fmt.Sprintf("%d errored", m.errored)))
	}
	if m.aborted > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Aborted).
			Render(fmt.Sprintf("%d aborted", m.aborted)))
	}
	if m.suppressed > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.Suppressed).
			Render(fmt.Sprintf("%d allowed", m.suppressed)))
	}
	return strings.Join(parts, " · ")
}

// resultLine renders one finished job with its outcome glyph, tinting
// the row while its heat is decaying.
func (m Model) resultLine(result *executor.Result, faint lipgloss.Style) string {
	name := jobName(result)
	glyph := outcomeGlyph(result)
	glyphStyle := lipgloss.NewStyle().Foreground(m.theme.OutcomeColor(result.Outcome, result.Suppressed))

	line := fmt.Sprintf("%s %s %s",
		glyphStyle.Render(glyph),
		name,
		faint.Render(result.Duration().Round(time.Second).String()))

	if m.heat.Heat(name, m.now) > 0 {
		background := m.theme.HotSuccess
		if m.heat.Kind(name) == HeatFailure {
			background = m.theme.HotFailure
		}
		line = lipgloss.NewStyle().Background(background).Render(line)
	}
	return line
}

func outcomeGlyph(result *executor.Result) string {
	switch {
	case result.Outcome == executor.OutcomeSuccess:
		return "✓"
	case result.Suppressed:
		return "!"
	case result.Outcome == executor.OutcomeAborted:
		return "~"
	default:
		return "✗"
	}
}
