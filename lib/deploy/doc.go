// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy gates and runs the post-run deployment action.
//
// A Gate is built from the document's deploy section. Evaluate checks
// the finished run against the gate's conditions: the aggregate
// outcome must be success, the current branch must equal the target
// branch, and every job whose mode matches the configured trigger must
// have truly succeeded (the real verdict, ignoring allow-failure
// suppression). Fire then runs the deployment command at most once per
// run, claiming the slot with an exclusively-created marker file in
// the run directory before the command starts.
//
// Deployment failures are *Error values. The pipeline outcome is
// already decided when the gate runs, so a deploy failure never
// changes it; the CLI maps *Error to its own exit code.
package deploy
