// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loom-build/loom/lib/cache"
	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/matrix"
)

// Cancellation causes distinguishing timeouts from an external abort.
var (
	errWallTimeout  = errors.New("job wall clock timeout")
	errQuietTimeout = errors.New("job quiet timeout")
)

// Events receives job lifecycle notifications. Calls happen inline
// on the job's goroutine; implementations must return quickly.
type Events interface {
	// JobStatus is called at every state machine transition.
	JobStatus(spec *matrix.Spec, status Status)
	// StepDone is called after each executed step.
	StepDone(spec *matrix.Spec, record StepRecord)
}

type nopEvents struct{}

func (nopEvents) JobStatus(*matrix.Spec, Status)    {}
func (nopEvents) StepDone(*matrix.Spec, StepRecord) {}

// Options configures an Executor.
type Options struct {
	// Document supplies the step blocks and cache section. Required.
	Document *matrix.Document

	// Cache provides lease acquire/release. If nil, jobs run
	// uncached.
	Cache *cache.Manager

	// Runner executes individual steps. If nil, a ShellRunner with
	// GracePeriod is used.
	Runner StepRunner

	// Clock drives timeouts and durations. If nil, the real clock is
	// used.
	Clock clock.Clock

	// Logger receives job-level messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// Events receives lifecycle notifications. May be nil.
	Events Events

	// LogDir is where per-job log files are written. If empty, step
	// output is discarded.
	LogDir string

	// Timeout is the per-job wall clock limit. Zero disables it.
	Timeout time.Duration

	// QuietTimeout fails the job when no output arrives for this
	// long. Zero disables it.
	QuietTimeout time.Duration

	// GracePeriod is the SIGTERM-to-SIGKILL window for the default
	// runner.
	GracePeriod time.Duration
}

// Executor runs matrix jobs. One Executor serves a whole run; it is
// safe for concurrent Execute calls, which is how the scheduler's
// workers use it.
type Executor struct {
	document *matrix.Document
	cache    *cache.Manager
	runner   StepRunner
	clk      clock.Clock
	logger   *slog.Logger
	events   Events
	logDir   string
	timeout  time.Duration
	quiet    time.Duration
}

// New validates the options and returns an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Document == nil {
		return nil, fmt.Errorf("executor: Document is required")
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewShellRunner(opts.GracePeriod, clk)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	events := opts.Events
	if events == nil {
		events = nopEvents{}
	}

	return &Executor{
		document: opts.Document,
		cache:    opts.Cache,
		runner:   runner,
		clk:      clk,
		logger:   logger,
		events:   events,
		logDir:   opts.LogDir,
		timeout:  opts.Timeout,
		quiet:    opts.QuietTimeout,
	}, nil
}

// Execute runs one job through the full state machine and returns
// its Result. Execution problems land in the Result, never in a
// returned error: a job always finishes with a verdict, and the
// cache lease is always released before Execute returns.
func (e *Executor) Execute(ctx context.Context, spec *matrix.Spec) *Result {
	result := &Result{Spec: spec, Started: e.clk.Now()}

	writer, closeLog := e.openJobLog(spec, result)
	defer closeLog()

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if e.timeout > 0 {
		wallTimer := e.clk.AfterFunc(e.timeout, func() { cancel(errWallTimeout) })
		defer wallTimer.Stop()
	}
	output := writer
	if e.quiet > 0 {
		quietTimer := e.clk.AfterFunc(e.quiet, func() { cancel(errQuietTimeout) })
		defer quietTimer.Stop()
		output = &activityWriter{writer: writer, timer: quietTimer, interval: e.quiet}
	}

	block := e.document.Steps[string(spec.Mode)]

	e.setStatus(spec, StatusPreparing)
	lease := e.acquireCache(jobCtx, spec, result, output)

	if e.runPhase(jobCtx, spec, PhaseInstall, block.Install, result, output) {
		e.setStatus(spec, StatusRunning)
		if e.runPhase(jobCtx, spec, PhaseScript, block.Script, result, output) {
			result.Outcome = OutcomeSuccess
			e.setStatus(spec, StatusSucceeded)
		} else {
			e.setStatus(spec, StatusFailed)
		}
	} else {
		// Install failed: straight to Failed, Running never starts.
		e.setStatus(spec, StatusFailed)
	}

	e.setStatus(spec, StatusFinalizing)
	if result.Outcome == OutcomeSuccess {
		e.runAfterSuccess(jobCtx, spec, block.AfterSuccess, result, output)
	}
	e.releaseCache(jobCtx, lease, spec, result, output)

	result.Suppressed = spec.AllowFailure && result.Outcome != OutcomeSuccess
	result.Finished = e.clk.Now()
	e.setStatus(spec, StatusDone)

	e.logger.Info("job finished",
		"job", spec.Name,
		"outcome", string(result.Outcome),
		"suppressed", result.Suppressed,
		"duration", result.Duration().Round(time.Millisecond).String(),
	)
	return result
}

func (e *Executor) setStatus(spec *matrix.Spec, status Status) {
	e.logger.Debug("job status", "job", spec.Name, "status", string(status))
	e.events.JobStatus(spec, status)
}

// runPhase executes steps sequentially, fail-fast. Returns true when
// every step succeeded; otherwise the result's outcome, exit code,
// and failure reason are filled in.
func (e *Executor) runPhase(ctx context.Context, spec *matrix.Spec, phase Phase, steps []matrix.Step, result *Result, output io.Writer) bool {
	for index, step := range steps {
		if ctx.Err() != nil {
			e.failPhase(ctx, result, phase, stepLabel(step), -1, nil)
			return false
		}
		record, runErr := e.runStep(ctx, spec, phase, step, index, len(steps), output)
		result.Steps = append(result.Steps, record)
		e.events.StepDone(spec, record)
		if record.Status != StepOK {
			e.failPhase(ctx, result, phase, record.Name, record.ExitCode, runErr)
			return false
		}
	}
	return true
}

// runAfterSuccess runs the after_success steps. Failures become
// warnings, never outcome changes, and later steps still run.
func (e *Executor) runAfterSuccess(ctx context.Context, spec *matrix.Spec, steps []matrix.Step, result *Result, output io.Writer) {
	for index, step := range steps {
		if ctx.Err() != nil {
			return
		}
		record, runErr := e.runStep(ctx, spec, PhaseAfterSuccess, step, index, len(steps), output)
		result.Steps = append(result.Steps, record)
		e.events.StepDone(spec, record)
		if record.Status != StepOK {
			var warning string
			if runErr != nil {
				warning = fmt.Sprintf("after_success step %q: %v", record.Name, runErr)
			} else {
				warning = fmt.Sprintf("after_success step %q exited with code %d", record.Name, record.ExitCode)
			}
			result.Warnings = append(result.Warnings, warning)
		}
	}
}

// runStep executes one step, honoring its retry budget. Only the
// final attempt's exit code lands in the record.
func (e *Executor) runStep(ctx context.Context, spec *matrix.Spec, phase Phase, step matrix.Step, index, total int, output io.Writer) (StepRecord, error) {
	label := stepLabel(step)
	fmt.Fprintf(output, "[loom] %s %d/%d: %s\n", phase, index+1, total, label)

	record := StepRecord{Phase: phase, Name: label}
	env := mergeStepEnv(spec.Env, step.Env)
	started := e.clk.Now()

	var runErr error
	maxAttempts := 1 + step.Retries
	for record.Attempts < maxAttempts {
		record.Attempts++
		record.ExitCode, runErr = e.runner.Run(ctx, step.Run, env, output)
		if runErr == nil && record.ExitCode == 0 {
			break
		}
		if ctx.Err() != nil || record.Attempts >= maxAttempts {
			break
		}
		fmt.Fprintf(output, "[loom] %s %d/%d: attempt %d failed, retrying\n", phase, index+1, total, record.Attempts)
	}
	record.Duration = e.clk.Now().Sub(started)

	switch {
	case runErr == nil && record.ExitCode == 0:
		record.Status = StepOK
	case ctx.Err() != nil:
		record.Status = StepAborted
	default:
		record.Status = StepFailed
	}
	fmt.Fprintf(output, "[loom] %s %d/%d: %s (%s)\n", phase, index+1, total, record.Status, record.Duration.Round(time.Millisecond))
	return record, runErr
}

// failPhase classifies a step failure into the job outcome. Timeout
// causes win over the phase distinction: a timeout is always
// `failed`, an external abort is always `aborted`, and only then
// does install-versus-script decide between errored and failed.
func (e *Executor) failPhase(ctx context.Context, result *Result, phase Phase, stepName string, exitCode int, runErr error) {
	result.ExitCode = exitCode
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errWallTimeout):
		result.Outcome = OutcomeFailed
		result.FailureReason = fmt.Sprintf("timed out after %s", e.timeout)
	case errors.Is(cause, errQuietTimeout):
		result.Outcome = OutcomeFailed
		result.FailureReason = fmt.Sprintf("no output for %s", e.quiet)
	case ctx.Err() != nil:
		result.Outcome = OutcomeAborted
		result.FailureReason = "run cancelled"
	case phase == PhaseInstall:
		result.Outcome = OutcomeErrored
		result.FailureReason = failureText(phase, stepName, exitCode, runErr)
	default:
		result.Outcome = OutcomeFailed
		result.FailureReason = failureText(phase, stepName, exitCode, runErr)
	}
}

func failureText(phase Phase, stepName string, exitCode int, runErr error) string {
	if runErr != nil {
		return fmt.Sprintf("%s step %q: %v", phase, stepName, runErr)
	}
	return fmt.Sprintf("%s step %q exited with code %d", phase, stepName, exitCode)
}

// acquireCache acquires the job's cache lease during Preparing.
// Every cache problem is a warning: cache trouble must never fail a
// build.
func (e *Executor) acquireCache(ctx context.Context, spec *matrix.Spec, result *Result, output io.Writer) *cache.Lease {
	section := e.document.Cache
	if section == nil || e.cache == nil || len(section.Paths) == 0 {
		return nil
	}

	paths, err := matrix.SubstituteAll(section.Paths, substitutionEnv(spec))
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cache paths: %v", err))
		return nil
	}

	lease, err := e.cache.Acquire(ctx, cache.Job{
		Document: e.document.Name,
		ID:       spec.ID,
		Name:     spec.Name,
	}, paths)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cache acquire: %v", err))
		return nil
	}
	if warning := lease.Warning(); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	result.CacheRestored = lease.Restored()
	if lease.Restored() {
		fmt.Fprintf(output, "[loom] cache restored (key %s)\n", lease.Key())
	} else {
		fmt.Fprintf(output, "[loom] cache miss (key %s)\n", lease.Key())
	}
	return lease
}

// releaseCache releases the lease unconditionally. Prune paths are
// expanded here; an expansion failure skips pruning, never the
// release itself.
func (e *Executor) releaseCache(ctx context.Context, lease *cache.Lease, spec *matrix.Spec, result *Result, output io.Writer) {
	if lease == nil {
		return
	}

	var prune []string
	if section := e.document.Cache; section != nil && len(section.Prune) > 0 {
		expanded, err := matrix.SubstituteAll(section.Prune, substitutionEnv(spec))
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("cache prune paths: %v", err))
		} else {
			prune = expanded
		}
	}

	if err := lease.Release(context.WithoutCancel(ctx), prune); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cache release: %v", err))
		return
	}
	fmt.Fprintf(output, "[loom] cache saved (key %s)\n", lease.Key())
}

// openJobLog opens the per-job log file. A failure to open it is a
// warning; the job then runs with discarded output.
func (e *Executor) openJobLog(spec *matrix.Spec, result *Result) (io.Writer, func()) {
	if e.logDir == "" {
		return io.Discard, func() {}
	}
	path := filepath.Join(e.logDir, sanitizeFileName(spec.Name)+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("job log: %v", err))
		return io.Discard, func() {}
	}
	return file, func() { file.Close() }
}

// sanitizeFileName maps separator and NUL runes out of a job name so
// it can serve as a log file name. Axis values are arbitrary text.
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == 0 {
			return '-'
		}
		return r
	}, name)
}

func stepLabel(step matrix.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return step.Run
}

// mergeStepEnv layers a step's env over the job env. The job map is
// never mutated; steps see their own copy only when they override.
func mergeStepEnv(jobEnv, stepEnv map[string]string) map[string]string {
	if len(stepEnv) == 0 {
		return jobEnv
	}
	merged := make(map[string]string, len(jobEnv)+len(stepEnv))
	for name, value := range jobEnv {
		merged[name] = value
	}
	for name, value := range stepEnv {
		merged[name] = value
	}
	return merged
}

// substitutionEnv is what loom's own path fields (cache paths, prune
// paths) expand against: the process environment overlaid with the
// job's merged env.
func substitutionEnv(spec *matrix.Spec) map[string]string {
	env := make(map[string]string, len(spec.Env)+32)
	for _, pair := range os.Environ() {
		if name, value, found := strings.Cut(pair, "="); found {
			env[name] = value
		}
	}
	for name, value := range spec.Env {
		env[name] = value
	}
	return env
}

// activityWriter resets the quiet timer on every write, so the timer
// fires only after a full interval with no output at all.
type activityWriter struct {
	mu       sync.Mutex
	writer   io.Writer
	timer    *clock.Timer
	interval time.Duration
}

func (a *activityWriter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer.Reset(a.interval)
	return a.writer.Write(p)
}
