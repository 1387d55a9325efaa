// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/scheduler"
)

// LineType classifies report lines.
type LineType string

const (
	// LineRunStart opens the report.
	LineRunStart LineType = "run_start"

	// LineJobResult records one finished job.
	LineJobResult LineType = "job_result"

	// LineRunComplete records the aggregate verdict.
	LineRunComplete LineType = "run_complete"

	// LineDeploy records the deploy gate's decision and, when it
	// fired, the deployment command's outcome.
	LineDeploy LineType = "deploy"
)

// Line is one report entry. Each line has a timestamp, a type, and
// the matching type-specific payload.
type Line struct {
	// Timestamp is when the line was written.
	Timestamp time.Time `json:"timestamp"`

	// Type classifies the line.
	Type LineType `json:"type"`

	// RunStart is set for LineRunStart lines.
	RunStart *RunStartLine `json:"run_start,omitempty"`

	// JobResult is set for LineJobResult lines.
	JobResult *JobResultLine `json:"job_result,omitempty"`

	// RunComplete is set for LineRunComplete lines.
	RunComplete *RunCompleteLine `json:"run_complete,omitempty"`

	// Deploy is set for LineDeploy lines.
	Deploy *DeployLine `json:"deploy,omitempty"`
}

// RunStartLine identifies the run.
type RunStartLine struct {
	// RunID is the run directory's identifier.
	RunID string `json:"run_id"`

	// Pipeline is the matrix document's name.
	Pipeline string `json:"pipeline"`

	// Branch is the branch the run was invoked for, when known.
	Branch string `json:"branch,omitempty"`

	// TotalJobs is the expanded job count.
	TotalJobs int `json:"total_jobs"`
}

// StepLine is one executed step inside a job_result line.
type StepLine struct {
	Phase           string  `json:"phase"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	ExitCode        int     `json:"exit_code"`
	Attempts        int     `json:"attempts"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// JobResultLine is the wire form of one job's result.
type JobResultLine struct {
	Name            string            `json:"name"`
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	Axes            map[string]string `json:"axes,omitempty"`
	Outcome         string            `json:"outcome"`
	AllowFailure    bool              `json:"allow_failure,omitempty"`
	Suppressed      bool              `json:"suppressed,omitempty"`
	ExitCode        int               `json:"exit_code"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CacheRestored   bool              `json:"cache_restored,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	Steps           []StepLine        `json:"steps,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	DurationSeconds float64           `json:"duration_seconds"`
}

// RunCompleteLine is the wire form of the run summary.
type RunCompleteLine struct {
	Outcome         string  `json:"outcome"`
	TotalJobs       int     `json:"total_jobs"`
	Succeeded       int     `json:"succeeded"`
	Failed          int     `json:"failed"`
	Errored         int     `json:"errored"`
	Aborted         int     `json:"aborted"`
	Suppressed      int     `json:"suppressed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// DeployLine records the deploy gate outcome.
type DeployLine struct {
	// Fired reports whether the deployment command ran.
	Fired bool `json:"fired"`

	// Reason explains the decision, fired or not.
	Reason string `json:"reason"`

	// Branch is the branch the gate evaluated against.
	Branch string `json:"branch,omitempty"`

	// ExitCode is the deployment command's exit status when it ran.
	ExitCode int `json:"exit_code,omitempty"`

	// Error describes a deployment failure.
	Error string `json:"error,omitempty"`
}

// Options configures a Writer.
type Options struct {
	// RunID identifies the run in the run_start line.
	RunID string

	// Pipeline is the matrix document's name.
	Pipeline string

	// Branch is the branch under test, when known.
	Branch string

	// Clock supplies line timestamps. If nil, the real clock is used.
	Clock clock.Clock

	// Logger receives write-failure messages from the event methods,
	// which have no error return. If nil, failures are dropped.
	Logger *slog.Logger
}

// Writer appends report lines to a JSONL file. It is safe for
// concurrent use; job results arrive from scheduler workers. A nil
// *Writer is valid and discards everything.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	clk     clock.Clock
	logger  *slog.Logger

	runID    string
	pipeline string
	branch   string

	mutex  sync.Mutex
	closed bool
}

// Writer subscribes to run lifecycle notifications directly.
var _ scheduler.Events = (*Writer)(nil)

// NewWriter creates (or truncates) the report file.
func NewWriter(path string, opts Options) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating report %q: %w", path, err)
	}

	encoder := json.NewEncoder(file)
	// No indentation: one compact JSON object per line.
	encoder.SetEscapeHTML(false)

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Writer{
		file:     file,
		encoder:  encoder,
		clk:      clk,
		logger:   logger,
		runID:    opts.RunID,
		pipeline: opts.Pipeline,
		branch:   opts.Branch,
	}, nil
}

// RunStarted writes the run_start line.
func (w *Writer) RunStarted(total int) {
	if w == nil {
		return
	}
	w.log(w.write(Line{
		Type: LineRunStart,
		RunStart: &RunStartLine{
			RunID:     w.runID,
			Pipeline:  w.pipeline,
			Branch:    w.branch,
			TotalJobs: total,
		},
	}))
}

// JobStarted is a no-op; the report records outcomes, not starts.
func (w *Writer) JobStarted(*matrix.Spec) {}

// JobFinished writes the job's job_result line.
func (w *Writer) JobFinished(result *executor.Result) {
	if w == nil {
		return
	}
	w.log(w.write(Line{Type: LineJobResult, JobResult: jobResultLine(result)}))
}

// RunFinished writes the run_complete line.
func (w *Writer) RunFinished(summary *scheduler.Summary) {
	if w == nil {
		return
	}
	w.log(w.write(Line{
		Type: LineRunComplete,
		RunComplete: &RunCompleteLine{
			Outcome:         string(summary.Outcome),
			TotalJobs:       summary.Total(),
			Succeeded:       summary.Succeeded,
			Failed:          summary.Failed,
			Errored:         summary.Errored,
			Aborted:         summary.Aborted,
			Suppressed:      summary.Suppressed,
			DurationSeconds: summary.Duration().Seconds(),
		},
	}))
}

// Deploy writes the deploy line. Called once by the CLI after the
// gate's decision (and the deployment command, when it fired).
func (w *Writer) Deploy(line DeployLine) error {
	if w == nil {
		return nil
	}
	return w.write(Line{Type: LineDeploy, Deploy: &line})
}

// Close flushes and closes the report file. Idempotent.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// write appends one line and syncs it to disk, so a crashed run still
// leaves every completed line readable.
func (w *Writer) write(line Line) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	line.Timestamp = w.clk.Now().UTC()
	if err := w.encoder.Encode(line); err != nil {
		return fmt.Errorf("encoding report line: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("syncing report: %w", err)
	}
	return nil
}

func (w *Writer) log(err error) {
	if err != nil {
		w.logger.Error("writing report line", "error", err)
	}
}

func jobResultLine(result *executor.Result) *JobResultLine {
	line := &JobResultLine{
		Outcome:         string(result.Outcome),
		Suppressed:      result.Suppressed,
		ExitCode:        result.ExitCode,
		FailureReason:   result.FailureReason,
		CacheRestored:   result.CacheRestored,
		Warnings:        result.Warnings,
		Steps:           stepLines(result.Steps),
		StartedAt:       result.Started.UTC(),
		FinishedAt:      result.Finished.UTC(),
		DurationSeconds: result.Duration().Seconds(),
	}
	if spec := result.Spec; spec != nil {
		line.Name = spec.Name
		line.ID = spec.ID
		line.Mode = string(spec.Mode)
		line.Axes = spec.Axes
		line.AllowFailure = spec.AllowFailure
	}
	return line
}

func stepLines(records []executor.StepRecord) []StepLine {
	if len(records) == 0 {
		return nil
	}
	lines := make([]StepLine, len(records))
	for i, record := range records {
		lines[i] = StepLine{
			Phase:           string(record.Phase),
			Name:            record.Name,
			Status:          record.Status,
			ExitCode:        record.ExitCode,
			Attempts:        record.Attempts,
			DurationSeconds: record.Duration.Seconds(),
		}
	}
	return lines
}
