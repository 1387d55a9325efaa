// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix expands a build-matrix document into concrete job
// specifications.
//
// A matrix document declares axes (named dimensions of variation),
// include and exclude entries, environment overrides, step sequences
// keyed by mode, cache configuration, and an optional deploy section.
// Documents are authored as JSONC files (JSON extended with comments
// and trailing commas).
//
// The typical flow:
//
//  1. ParseFile or Parse: JSONC bytes → Document
//  2. Expand: Document → ordered []Spec, with every job's mode
//     resolved and every conflict reported as a *ConfigError before
//     any job starts
//  3. The scheduler executes the Specs; this package is not consulted
//     again during the run
//
// Expansion is deterministic: the cross-product enumerates axis values
// in declaration order with the first axis varying slowest, exclude
// entries remove matching combinations, and include entries append
// extra jobs in declaration order.
package matrix
