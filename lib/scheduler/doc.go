// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler dispatches expanded job specs to a bounded worker
// pool and aggregates their results into a pipeline verdict.
//
// The pool never short-circuits: a failing job does not prevent its
// siblings from running to completion. Cancellation stops dispatching
// new jobs, but every job already handed to a worker finishes its
// state machine (including cache release) before Run returns. Results
// are slot-indexed, so report order always equals expansion order no
// matter which worker finished first.
package scheduler
