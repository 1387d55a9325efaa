// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/loom-build/loom/lib/deploy"
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/scheduler"
)

var summaryTestStart = time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC)

func summaryResult(name string, outcome executor.Outcome, suppressed bool, reason string, duration time.Duration) *executor.Result {
	return &executor.Result{
		Spec:          &matrix.Spec{Name: name, Mode: matrix.ModeDefault},
		Outcome:       outcome,
		Suppressed:    suppressed,
		FailureReason: reason,
		Started:       summaryTestStart,
		Finished:      summaryTestStart.Add(duration),
	}
}

func TestRenderSummaryTable(t *testing.T) {
	summary := &scheduler.Summary{
		Results: []*executor.Result{
			summaryResult("rust=stable", executor.OutcomeSuccess, false, "", 95*time.Second),
			summaryResult("rust=beta", executor.OutcomeFailed, false, `script step "cargo test" exited with code 101`, 80*time.Second),
			summaryResult("rust=nightly", executor.OutcomeFailed, true, "", 70*time.Second),
		},
		Outcome:    scheduler.OutcomeFailure,
		Succeeded:  1,
		Failed:     1,
		Suppressed: 1,
		Started:    summaryTestStart,
		Finished:   summaryTestStart.Add(3 * time.Minute),
	}

	var buffer bytes.Buffer
	RenderSummary(&buffer, DefaultTheme, summary)
	output := buffer.String()

	for _, want := range []string{
		"run summary",
		"rust=stable",
		"rust=beta",
		"rust=nightly",
		"failed (allowed)",
		`script step "cargo test" exited with code 101`,
		"FAILURE",
		"1 ok, 1 failed, 1 allowed",
		"in 3m0s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("summary missing %q:\n%s", want, output)
		}
	}
}

func TestRenderSummarySuccessVerdict(t *testing.T) {
	summary := &scheduler.Summary{
		Results: []*executor.Result{
			summaryResult("job", executor.OutcomeSuccess, false, "", time.Second),
		},
		Outcome:   scheduler.OutcomeSuccess,
		Succeeded: 1,
		Started:   summaryTestStart,
		Finished:  summaryTestStart.Add(time.Second),
	}

	var buffer bytes.Buffer
	RenderSummary(&buffer, DefaultTheme, summary)
	output := buffer.String()

	if !strings.Contains(output, "SUCCESS") {
		t.Errorf("summary missing verdict:\n%s", output)
	}
	if strings.Contains(output, "failed") {
		t.Errorf("all-green summary mentions failures:\n%s", output)
	}
}

func TestRenderDeploy(t *testing.T) {
	tests := []struct {
		name      string
		decision  deploy.Decision
		deployErr error
		want      string
	}{
		{
			name:     "fired",
			decision: deploy.Decision{Fire: true, Reason: "all conditions met"},
			want:     "deployed",
		},
		{
			name:     "skipped",
			decision: deploy.Decision{Reason: "trigger job not present"},
			want:     "deploy skipped",
		},
		{
			name:      "failed",
			decision:  deploy.Decision{Fire: true, Reason: "all conditions met"},
			deployErr: &deploy.Error{ExitCode: 3},
			want:      "deploy failed",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buffer bytes.Buffer
			RenderDeploy(&buffer, DefaultTheme, test.decision, test.deployErr)
			if !strings.Contains(buffer.String(), test.want) {
				t.Errorf("output = %q, want %q mentioned", buffer.String(), test.want)
			}
			if !strings.Contains(buffer.String(), test.decision.Reason) && test.deployErr == nil {
				t.Errorf("output = %q, want reason included", buffer.String())
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{90 * time.Second, "1m30s"},
		{500 * time.Millisecond, "500ms"},
		{time.Hour + 5*time.Minute, "1h5m0s"},
		{0, "0s"},
	}
	for _, test := range tests {
		if got := formatDuration(test.in); got != test.want {
			t.Errorf("formatDuration(%v) = %q, want %q", test.in, got, test.want)
		}
	}
}
