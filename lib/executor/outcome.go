// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

// Status is a job's position in the execution state machine.
type Status string

const (
	// StatusPreparing: cache acquire and install steps.
	StatusPreparing Status = "preparing"
	// StatusRunning: script steps.
	StatusRunning Status = "running"
	// StatusSucceeded: every script step exited zero.
	StatusSucceeded Status = "succeeded"
	// StatusFailed: an install or script step failed, timed out, or
	// the run was cancelled.
	StatusFailed Status = "failed"
	// StatusFinalizing: after_success and cache release.
	StatusFinalizing Status = "finalizing"
	// StatusDone: terminal. The Result is complete.
	StatusDone Status = "done"
)

// Outcome is a job's final verdict.
type Outcome string

const (
	// OutcomeSuccess: all install and script steps exited zero.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailed: a script step failed, or a timeout expired.
	OutcomeFailed Outcome = "failed"
	// OutcomeErrored: the job broke before its script ran (an
	// install step failed).
	OutcomeErrored Outcome = "errored"
	// OutcomeAborted: the run was cancelled from outside.
	OutcomeAborted Outcome = "aborted"
)

// Phase names a step sequence within a job.
type Phase string

const (
	PhaseInstall      Phase = "install"
	PhaseScript       Phase = "script"
	PhaseAfterSuccess Phase = "after_success"
)

// Step statuses recorded in StepRecord.Status.
const (
	StepOK      = "ok"
	StepFailed  = "failed"
	StepAborted = "aborted"
)
