// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"time"

	"github.com/loom-build/loom/lib/matrix"
)

// StepRecord captures one executed step.
type StepRecord struct {
	Phase    Phase
	Name     string
	Status   string
	ExitCode int
	// Attempts is how many times the step ran, at most 1 + Retries.
	Attempts int
	Duration time.Duration
}

// Result is the complete account of one job execution.
type Result struct {
	Spec *matrix.Spec

	Outcome Outcome
	// Suppressed is true when the job failed but carries
	// allow-failure, so aggregation ignores the failure. The Outcome
	// field always holds the real verdict.
	Suppressed bool
	// ExitCode is the exit status of the step that decided a
	// non-success outcome; 0 on success, -1 when the step died to a
	// signal or never ran.
	ExitCode int
	// FailureReason is a one-line explanation for non-success
	// outcomes.
	FailureReason string

	Steps    []StepRecord
	Warnings []string

	// CacheRestored reports whether the cache lease restored an
	// archive during Preparing.
	CacheRestored bool

	Started  time.Time
	Finished time.Time
}

// Duration is the job's total wall time.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Succeeded reports the real verdict, ignoring allow-failure.
func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// CountsAsFailure reports whether the job should fail the pipeline:
// any non-success outcome not suppressed by allow-failure.
func (r *Result) CountsAsFailure() bool {
	return r.Outcome != OutcomeSuccess && !r.Suppressed
}
