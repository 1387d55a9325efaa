// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the loom CLI command tree. Each subcommand
// lives in its own file; Root assembles them for main.
package commands

import (
	"github.com/loom-build/loom/cmd/loom/cli"
)

// Root builds and returns the complete loom command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "loom",
		Description: `Loom: a build-matrix pipeline runner.

Expand a declarative matrix document into jobs, run them through a
worker pool with per-job caching, and gate deployment on the outcome.`,
		Subcommands: []*cli.Command{
			runCommand(),
			expandCommand(),
			validateCommand(),
			cacheCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Run a pipeline on the current branch",
				Command:     "loom run .loom.jsonc --branch $(git branch --show-current)",
			},
			{
				Description: "Preview the expanded job list without running anything",
				Command:     "loom expand .loom.jsonc",
			},
			{
				Description: "Check a matrix document for errors",
				Command:     "loom validate .loom.jsonc",
			},
			{
				Description: "See what the cache store holds",
				Command:     "loom cache stats",
			},
		},
	}
}
