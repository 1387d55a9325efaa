// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Command loom runs build-matrix pipelines: it expands a matrix
// document into jobs, executes them through a worker pool with
// per-job caching, and gates deployment on the aggregate outcome.
package main

import (
	"fmt"
	"os"

	"github.com/loom-build/loom/cmd/loom/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that already reported their outcome (a failed
		// pipeline, an invalid document) return an ExitError with
		// the desired code; no redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
