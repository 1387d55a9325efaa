// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/loom-build/loom/cmd/loom/cli"
	"github.com/loom-build/loom/lib/matrix"
)

func expandCommand() *cli.Command {
	var (
		branch     string
		jsonOutput bool
	)

	return &cli.Command{
		Name:    "expand",
		Summary: "Print the expanded job list for a matrix document",
		Description: `Expand a matrix document into its job list without running anything.

The output shows each job's name, identity digest, resolved mode, and
markers: "allowed" for allow-failure jobs and "include" for jobs that
came from an include entry rather than the cross-product.

When the document has a deploy section, a trailing line previews the
gate decision for the given branch (--branch, falling back to the
LOOM_BRANCH environment variable).

With --json, emits the pipeline name and full job specs as JSON for
tooling.`,
		Usage: "loom expand <matrix.jsonc> [--branch B] [--json]",
		Examples: []cli.Example{
			{
				Description: "Preview the job list",
				Command:     "loom expand .loom.jsonc",
			},
			{
				Description: "Check whether a push to master would deploy",
				Command:     "loom expand .loom.jsonc --branch master",
			},
			{
				Description: "Feed the expansion to jq",
				Command:     "loom expand .loom.jsonc --json | jq '.jobs[].name'",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("expand", pflag.ContinueOnError)
			flagSet.StringVar(&branch, "branch", "", "branch name for the deploy preview (default $LOOM_BRANCH)")
			flagSet.BoolVar(&jsonOutput, "json", false, "emit the expansion as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one matrix document path\n\nUsage: loom expand <matrix.jsonc> [--branch B] [--json]")
			}

			doc, err := matrix.ParseFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				return &cli.ExitError{Code: cli.ExitConfig}
			}

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

			if branch == "" {
				branch = os.Getenv("LOOM_BRANCH")
			}

			if jsonOutput {
				return writeExpansionJSON(os.Stdout, doc, specs)
			}

			printExpansion(os.Stdout, doc, specs, branch)
			return nil
		},
	}
}

// expansion is the --json output shape.
type expansion struct {
	Pipeline string        `json:"pipeline"`
	Jobs     []matrix.Spec `json:"jobs"`
}

func writeExpansionJSON(w io.Writer, doc *matrix.Document, specs []matrix.Spec) error {
	data, err := json.MarshalIndent(expansion{Pipeline: doc.Name, Jobs: specs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding expansion: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func printExpansion(w io.Writer, doc *matrix.Document, specs []matrix.Spec, branch string) {
	fmt.Fprintf(w, "%s: %d jobs\n\n", doc.Name, len(specs))

	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "  NAME\tID\tMODE\t\n")
	for _, spec := range specs {
		var markers []string
		if spec.AllowFailure {
			markers = append(markers, "allowed")
		}
		if spec.FromInclude {
			markers = append(markers, "include")
		}
		if spec.Privileged {
			markers = append(markers, "privileged")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", spec.Name, spec.ID, spec.Mode, strings.Join(markers, ","))
	}
	tw.Flush()

	if doc.Deploy != nil {
		fmt.Fprintf(w, "\n%s\n", deployPreview(doc, specs, branch))
	}
}

// deployPreview describes what the deploy gate would need on this
// branch. Expansion already guarantees at least one job resolves to
// the trigger mode.
func deployPreview(doc *matrix.Document, specs []matrix.Spec, branch string) string {
	var triggers []string
	for _, spec := range specs {
		if string(spec.Mode) == doc.Deploy.Trigger {
			triggers = append(triggers, spec.Name)
		}
	}

	if branch == "" {
		return fmt.Sprintf("deploy: configured for branch %q, trigger %q (%s); pass --branch to preview",
			doc.Deploy.Branch, doc.Deploy.Trigger, strings.Join(triggers, ", "))
	}
	if branch != doc.Deploy.Branch {
		return fmt.Sprintf("deploy: branch %q does not match deploy branch %q; the gate will not fire",
			branch, doc.Deploy.Branch)
	}
	return fmt.Sprintf("deploy: fires on branch %q when the run succeeds and trigger jobs succeed: %s",
		branch, strings.Join(triggers, ", "))
}
