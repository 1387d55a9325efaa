// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/scheduler"
)

var reportTestStart = time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)

func readLines(t *testing.T, path string) []Line {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening report: %v", err)
	}
	defer file.Close()

	var lines []Line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line Line
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("parsing report line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading report: %v", err)
	}
	return lines
}

func TestWriterFullRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.jsonl")
	writer, err := NewWriter(path, Options{
		RunID:    "20260825-180000-abcd",
		Pipeline: "calloop",
		Branch:   "master",
		Clock:    clock.Fake(reportTestStart),
	})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer writer.Close()

	spec := &matrix.Spec{
		Name:         "rust=nightly",
		ID:           "deadbeef0123",
		Mode:         matrix.ModeDefault,
		Axes:         map[string]string{"rust": "nightly"},
		AllowFailure: true,
	}
	result := &executor.Result{
		Spec:          spec,
		Outcome:       executor.OutcomeFailed,
		Suppressed:    true,
		ExitCode:      101,
		FailureReason: `script step "cargo test" exited with code 101`,
		Steps: []executor.StepRecord{
			{Phase: executor.PhaseInstall, Name: "cargo fetch", Status: executor.StepOK, Attempts: 1, Duration: 3 * time.Second},
			{Phase: executor.PhaseScript, Name: "cargo test", Status: executor.StepFailed, ExitCode: 101, Attempts: 1, Duration: 90 * time.Second},
		},
		Warnings:      []string{"cache restore: archive corrupt"},
		CacheRestored: false,
		Started:       reportTestStart,
		Finished:      reportTestStart.Add(2 * time.Minute),
	}
	summary := &scheduler.Summary{
		Results:    []*executor.Result{result},
		Outcome:    scheduler.OutcomeSuccess,
		Succeeded:  0,
		Suppressed: 1,
		Started:    reportTestStart,
		Finished:   reportTestStart.Add(2 * time.Minute),
	}

	writer.RunStarted(1)
	writer.JobStarted(spec)
	writer.JobFinished(result)
	writer.RunFinished(summary)
	if err := writer.Deploy(DeployLine{Fired: false, Reason: "trigger job not present", Branch: "master"}); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 4 {
		t.Fatalf("report has %d lines, want 4 (job_started must not produce one)", len(lines))
	}

	wantTypes := []LineType{LineRunStart, LineJobResult, LineRunComplete, LineDeploy}
	for i, line := range lines {
		if line.Type != wantTypes[i] {
			t.Fatalf("line %d type = %s, want %s", i, line.Type, wantTypes[i])
		}
		if !line.Timestamp.Equal(reportTestStart) {
			t.Fatalf("line %d timestamp = %v, want %v", i, line.Timestamp, reportTestStart)
		}
	}

	start := lines[0].RunStart
	if start == nil || start.RunID != "20260825-180000-abcd" || start.Pipeline != "calloop" ||
		start.Branch != "master" || start.TotalJobs != 1 {
		t.Fatalf("run_start = %+v", start)
	}

	job := lines[1].JobResult
	if job == nil {
		t.Fatal("job_result payload missing")
	}
	if job.Name != "rust=nightly" || job.ID != "deadbeef0123" || job.Mode != "default" {
		t.Fatalf("job identity = %+v", job)
	}
	if job.Outcome != "failed" || !job.Suppressed || !job.AllowFailure || job.ExitCode != 101 {
		t.Fatalf("job verdict = %+v", job)
	}
	if job.DurationSeconds != 120 {
		t.Fatalf("DurationSeconds = %v, want 120", job.DurationSeconds)
	}
	if len(job.Steps) != 2 || job.Steps[1].Status != "failed" || job.Steps[1].ExitCode != 101 ||
		job.Steps[1].DurationSeconds != 90 {
		t.Fatalf("steps = %+v", job.Steps)
	}
	if len(job.Warnings) != 1 {
		t.Fatalf("warnings = %v", job.Warnings)
	}

	complete := lines[2].RunComplete
	if complete == nil || complete.Outcome != "success" || complete.TotalJobs != 1 ||
		complete.Suppressed != 1 || complete.DurationSeconds != 120 {
		t.Fatalf("run_complete = %+v", complete)
	}

	deploy := lines[3].Deploy
	if deploy == nil || deploy.Fired || deploy.Reason != "trigger job not present" {
		t.Fatalf("deploy = %+v", deploy)
	}
}

func TestWriterNilIsSafe(t *testing.T) {
	t.Parallel()

	var writer *Writer
	writer.RunStarted(3)
	writer.JobStarted(&matrix.Spec{Name: "a"})
	writer.JobFinished(&executor.Result{Spec: &matrix.Spec{Name: "a"}})
	writer.RunFinished(&scheduler.Summary{})
	if err := writer.Deploy(DeployLine{}); err != nil {
		t.Fatalf("nil writer Deploy returned %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("nil writer Close returned %v", err)
	}
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.jsonl")
	writer, err := NewWriter(path, Options{Clock: clock.Fake(reportTestStart)})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := writer.Deploy(DeployLine{Fired: true, Reason: "all conditions met"}); err == nil {
		t.Fatal("Deploy on a closed writer succeeded")
	}
}

func TestWriterResultWithoutSpec(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.jsonl")
	writer, err := NewWriter(path, Options{Clock: clock.Fake(reportTestStart)})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer writer.Close()

	// A result with no spec still serializes; identity fields are
	// empty rather than panicking.
	writer.JobFinished(&executor.Result{Outcome: executor.OutcomeErrored, ExitCode: 1})
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 || lines[0].JobResult == nil {
		t.Fatalf("lines = %+v", lines)
	}
	if lines[0].JobResult.Name != "" || lines[0].JobResult.Outcome != "errored" {
		t.Fatalf("job_result = %+v", lines[0].JobResult)
	}
}
