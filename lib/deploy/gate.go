// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/scheduler"
)

// Decision is the gate verdict for one run.
type Decision struct {
	// Fire reports whether every deploy condition held.
	Fire bool

	// Reason explains the verdict in one line, for both verdicts.
	Reason string
}

// Error is a deployment failure. The run's jobs have already been
// judged when the gate fires, so a deploy failure never changes the
// pipeline outcome; callers detect it with errors.As and exit
// distinctly.
type Error struct {
	// ExitCode is the deploy command's exit code, 0 when the failure
	// happened before the command exited.
	ExitCode int

	// Err is the underlying error, nil for a plain non-zero exit.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deploy: %v", e.Err)
	}
	return fmt.Sprintf("deploy: command exited with code %d", e.ExitCode)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Gate.
type Options struct {
	// Document is the matrix document whose deploy section configures
	// the gate. Required; Document.Deploy must be non-nil.
	Document *matrix.Document

	// Branch is the branch this run is building, compared against the
	// deploy section's target branch.
	Branch string

	// RunDir is the run directory that holds the at-most-once marker.
	RunDir string

	// RunID identifies the run in the marker record.
	RunID string

	// Runner executes the deployment command. Nil uses a shell runner
	// on the real clock.
	Runner executor.StepRunner

	// Output receives the deployment command's combined output. Nil
	// discards it.
	Output io.Writer

	// Clock supplies the marker timestamp. Nil uses the real clock.
	Clock clock.Clock

	// Logger receives gate activity. Nil discards logs.
	Logger *slog.Logger
}

// Gate evaluates and executes the deployment action for one run.
type Gate struct {
	section *matrix.DeploySection
	env     map[string]string
	branch  string
	runDir  string
	runID   string
	runner  executor.StepRunner
	output  io.Writer
	clk     clock.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	fired bool
}

// New builds a Gate from the document's deploy section.
func New(opts Options) (*Gate, error) {
	if opts.Document == nil {
		return nil, fmt.Errorf("deploy: document is required")
	}
	if opts.Document.Deploy == nil {
		return nil, fmt.Errorf("deploy: document %q has no deploy section", opts.Document.Name)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	runner := opts.Runner
	if runner == nil {
		runner = executor.NewShellRunner(0, clk)
	}
	output := opts.Output
	if output == nil {
		output = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Gate{
		section: opts.Document.Deploy,
		env:     opts.Document.Env,
		branch:  opts.Branch,
		runDir:  opts.RunDir,
		runID:   opts.RunID,
		runner:  runner,
		output:  output,
		clk:     clk,
		logger:  logger,
	}, nil
}

// Evaluate checks the finished run against the gate's conditions. It
// performs no I/O; the verdict is computed once and handed to Fire.
func (g *Gate) Evaluate(summary *scheduler.Summary) Decision {
	decision := g.evaluate(summary)
	g.logger.Info("deploy gate evaluated",
		"fire", decision.Fire,
		"reason", decision.Reason)
	return decision
}

func (g *Gate) evaluate(summary *scheduler.Summary) Decision {
	if summary.Outcome != scheduler.OutcomeSuccess {
		return Decision{Reason: fmt.Sprintf("pipeline outcome is %s", summary.Outcome)}
	}
	if g.branch != g.section.Branch {
		return Decision{Reason: fmt.Sprintf("branch %q does not match deploy branch %q",
			g.branch, g.section.Branch)}
	}

	// Every job whose mode matches the trigger must have truly
	// succeeded. Suppression covers the aggregate, not the gate: an
	// allow-failure trigger job that failed still blocks deployment.
	present := false
	for _, result := range summary.Results {
		if result.Spec == nil || string(result.Spec.Mode) != g.section.Trigger {
			continue
		}
		present = true
		if !result.Succeeded() {
			return Decision{Reason: fmt.Sprintf("trigger job %q did not succeed", result.Spec.Name)}
		}
	}
	if !present {
		return Decision{Reason: "trigger job not present"}
	}

	return Decision{Fire: true, Reason: "all conditions met"}
}

// Fire runs the deployment command for a firing decision. At most one
// deployment executes per run: an in-process latch and the marker file
// both guard the slot, and the marker is claimed before the command
// starts so a crash mid-deploy cannot lead to a second attempt.
//
// A non-firing decision and an already-claimed slot both return nil.
func (g *Gate) Fire(ctx context.Context, decision Decision) error {
	if !decision.Fire {
		return nil
	}

	g.mu.Lock()
	alreadyFired := g.fired
	g.fired = true
	g.mu.Unlock()
	if alreadyFired {
		g.logger.Info("deploy already fired, skipping", "run_id", g.runID)
		return nil
	}

	claimed, err := claimMarker(g.runDir, Marker{
		RunID:  g.runID,
		Time:   g.clk.Now().UTC(),
		Fired:  true,
		Reason: decision.Reason,
	})
	if err != nil {
		return &Error{Err: fmt.Errorf("claiming deploy marker: %w", err)}
	}
	if !claimed {
		g.logger.Info("deploy marker already present, skipping", "run_id", g.runID)
		return nil
	}

	env, cleanup, err := g.commandEnv()
	if err != nil {
		return &Error{Err: err}
	}
	defer cleanup()

	g.logger.Info("deploying", "command", g.section.Command, "branch", g.branch)
	exitCode, err := g.runner.Run(ctx, g.section.Command, env, g.output)
	if err != nil {
		return &Error{Err: fmt.Errorf("running deploy command: %w", err)}
	}
	if exitCode != 0 {
		return &Error{ExitCode: exitCode}
	}

	g.logger.Info("deploy succeeded")
	return nil
}

// commandEnv assembles the deploy environment: the document's global
// env plus LOOM_BRANCH, LOOM_ARTIFACT_DIR, and the deploy token. The
// returned cleanup zeroes token memory and must run once the command
// has exited.
func (g *Gate) commandEnv() (map[string]string, func(), error) {
	env := make(map[string]string, len(g.env)+3)
	maps.Copy(env, g.env)
	env["LOOM_BRANCH"] = g.branch

	if g.section.ArtifactDir != "" {
		dir, err := matrix.SubstituteVars(g.section.ArtifactDir, substitutionEnv(g.env))
		if err != nil {
			return nil, nil, fmt.Errorf("expanding artifact_dir: %w", err)
		}
		env["LOOM_ARTIFACT_DIR"] = dir
	}

	cleanup := func() {}
	if g.section.TokenFile != "" {
		token, err := loadToken(g.section)
		if err != nil {
			return nil, nil, err
		}
		// The string copy is unavoidable at the exec boundary; the
		// guarded original is zeroed by cleanup.
		env["LOOM_DEPLOY_TOKEN"] = token.String()
		cleanup = func() { token.Close() }
	}

	return env, cleanup, nil
}

// substitutionEnv merges the process environment under the document
// env for ${VAR} expansion.
func substitutionEnv(documentEnv map[string]string) map[string]string {
	merged := make(map[string]string, len(documentEnv)+16)
	for _, entry := range os.Environ() {
		if name, value, ok := strings.Cut(entry, "="); ok {
			merged[name] = value
		}
	}
	maps.Copy(merged, documentEnv)
	return merged
}
