// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// Process exit codes. Zero is implicit: a command handler that
// returns nil exits 0.
const (
	// ExitFailure: the pipeline ran and at least one counting job
	// did not succeed.
	ExitFailure = 1

	// ExitConfig: the matrix document or operator configuration is
	// invalid; nothing was executed.
	ExitConfig = 2

	// ExitDeploy: the pipeline succeeded but the deployment step
	// failed. The pipeline outcome itself is unaffected.
	ExitDeploy = 3

	// ExitInterrupted: the run was cancelled by SIGINT, matching
	// the shell convention of 128+signal.
	ExitInterrupted = 130
)

// ExitError signals a specific process exit code without printing an
// additional error message. Commands return it after writing their
// own diagnostics; main exits with Code silently.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks for this interface on
// returned errors to distinguish a handled non-zero exit from an
// unexpected error that still needs printing.
func (e *ExitError) ExitCode() int {
	return e.Code
}
