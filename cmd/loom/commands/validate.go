// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/loom-build/loom/cmd/loom/cli"
	"github.com/loom-build/loom/lib/matrix"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check a matrix document for errors",
		Description: `Parse and validate a matrix document without running anything.

Validation covers structure (axes, entries, step blocks, cache and
deploy sections) and expansion-level issues: conflicting mode flags,
modes with no step block, and a deploy trigger no job resolves to.
Every issue is reported, not just the first.

Exit status is 0 for a valid document and 2 for an invalid one.`,
		Usage: "loom validate <matrix.jsonc>",
		Examples: []cli.Example{
			{
				Description: "Validate before committing a matrix change",
				Command:     "loom validate .loom.jsonc",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one matrix document path\n\nUsage: loom validate <matrix.jsonc>")
			}

			doc, err := matrix.ParseFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				return &cli.ExitError{Code: cli.ExitConfig}
			}

			// Expand performs the full check: structural validation
			// plus the issues only visible on the expanded jobs.
			specs, err := matrix.Expand(doc)
			if err != nil {
				var configErr *matrix.ConfigError
				if errors.As(err, &configErr) {
					for _, issue := range configErr.Issues {
						fmt.Fprintf(os.Stderr, "%s: %s\n", args[0], issue)
					}
					return &cli.ExitError{Code: cli.ExitConfig}
				}
				return err
			}

			fmt.Printf("%s: ok (%d jobs)\n", args[0], len(specs))
			return nil
		},
	}
}
