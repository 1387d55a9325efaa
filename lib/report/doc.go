// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package report writes the machine-readable run report: one JSON
// object per line (JSONL) in the run directory.
//
// A report holds a run_start line, one job_result line per job in
// completion order, a run_complete line, and a deploy line when the
// document configures a deploy gate. Each line is synced to disk as it
// is written, so a crashed run still leaves a usable partial report.
//
// Writer implements scheduler.Events, so wiring it into a run is one
// Options field. A nil *Writer is safe to call; every method is a
// no-op, which keeps callers free of report-enabled conditionals.
package report
