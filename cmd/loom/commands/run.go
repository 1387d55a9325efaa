// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/loom-build/loom/cmd/loom/cli"
	"github.com/loom-build/loom/lib/cache"
	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/deploy"
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/report"
	"github.com/loom-build/loom/lib/scheduler"
	"github.com/loom-build/loom/lib/secret"
	"github.com/loom-build/loom/lib/tui"
)

func runCommand() *cli.Command {
	var (
		configPath string
		branch     string
		workers    int
		progress   bool
		stateDir   string
	)

	return &cli.Command{
		Name:    "run",
		Summary: "Run a matrix pipeline",
		Description: `Expand a matrix document and run every job through the worker pool.

Each job gets its own log file under the run directory, and the run
produces a JSONL report (run_start, one job_result per job,
run_complete, and a deploy line when the document has a deploy
section). The summary table goes to stderr.

Allow-failure jobs run identically and report their true outcome, but
do not count against the pipeline verdict. When the document has a
deploy section, the deploy command fires after a successful run on
the matching branch, at most once per run.

SIGINT cancels the run: jobs already started finish their state
machine, jobs not yet dispatched are recorded as aborted.`,
		Usage: "loom run <matrix.jsonc> [flags]",
		Examples: []cli.Example{
			{
				Description: "Run the pipeline for the current branch",
				Command:     "loom run .loom.jsonc --branch $(git branch --show-current)",
			},
			{
				Description: "Run with a live progress view and four workers",
				Command:     "loom run .loom.jsonc --progress --workers 4",
			},
			{
				Description: "Keep all state under a scratch directory",
				Command:     "loom run .loom.jsonc --state-dir /tmp/loom-ci",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to the loom config file")
			flagSet.StringVar(&branch, "branch", "", "branch name for the deploy gate (default $LOOM_BRANCH)")
			flagSet.IntVar(&workers, "workers", 0, "concurrent jobs (0: config value, then CPU count)")
			flagSet.BoolVar(&progress, "progress", false, "show a live progress view on the terminal")
			flagSet.StringVar(&stateDir, "state-dir", "", "state root override; runs/ and cache/ are created under it")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one matrix document path\n\nUsage: loom run <matrix.jsonc> [flags]")
			}
			return runPipeline(args[0], runParams{
				configPath: configPath,
				branch:     branch,
				workers:    workers,
				progress:   progress,
				stateDir:   stateDir,
			})
		},
	}
}

type runParams struct {
	configPath string
	branch     string
	workers    int
	progress   bool
	stateDir   string
}

func runPipeline(documentPath string, params runParams) error {
	cfg, err := loadConfig(params.configPath)
	if err != nil {
		return err
	}
	if params.stateDir != "" {
		cfg.Paths.Root = params.stateDir
		cfg.Paths.Runs = filepath.Join(params.stateDir, "runs")
		cfg.Paths.Cache = filepath.Join(params.stateDir, "cache")
	}
	if params.workers > 0 {
		cfg.Workers = params.workers
	}

	branch := params.branch
	if branch == "" {
		branch = os.Getenv("LOOM_BRANCH")
	}

	doc, err := matrix.ParseFile(documentPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return &cli.ExitError{Code: cli.ExitConfig}
	}
	specs, err := matrix.Expand(doc)
	if err != nil {
		var configErr *matrix.ConfigError
		if errors.As(err, &configErr) {
			for _, issue := range configErr.Issues {
				fmt.Fprintf(os.Stderr, "%s: %s\n", documentPath, issue)
			}
			return &cli.ExitError{Code: cli.ExitConfig}
		}
		return err
	}

	timeout, quiet, grace, err := resolveDurations(cfg, doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return &cli.ExitError{Code: cli.ExitConfig}
	}

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	runID, err := newRunID(time.Now())
	if err != nil {
		return err
	}
	runDir := filepath.Join(cfg.Paths.Runs, runID)
	logDir := filepath.Join(runDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	// In progress mode the terminal belongs to the TUI, so log
	// records are routed into the view instead of stderr.
	useProgress := params.progress
	if useProgress && !term.IsTerminal(int(os.Stderr.Fd())) {
		useProgress = false
	}
	var logHandler *tui.LogHandler
	var logger *slog.Logger
	if useProgress {
		logHandler = tui.NewLogHandler(slog.LevelInfo)
		logger = slog.New(logHandler)
	} else {
		logger = cli.NewCommandLogger(cfg.Log.Level, cfg.Log.Format)
	}
	logger = logger.With("run_id", runID)

	var encryptionKey *secret.Buffer
	if cfg.Cache.EncryptionKeyFile != "" {
		if encryptionKey, err = loadCacheKey(cfg.Cache.EncryptionKeyFile); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return &cli.ExitError{Code: cli.ExitConfig}
		}
	}
	manager, err := cache.NewManager(cache.Options{
		Dir:           cfg.Paths.Cache,
		EncryptionKey: encryptionKey,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	writer, err := report.NewWriter(filepath.Join(runDir, "report.jsonl"), report.Options{
		RunID:    runID,
		Pipeline: doc.Name,
		Branch:   branch,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer writer.Close()

	exec, err := executor.New(executor.Options{
		Document:     doc,
		Cache:        manager,
		Logger:       logger,
		LogDir:       logDir,
		Timeout:      timeout,
		QuietTimeout: quiet,
		GracePeriod:  grace,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("run starting",
		"pipeline", doc.Name,
		"document", documentPath,
		"jobs", len(specs),
		"branch", branch,
		"run_dir", runDir,
	)

	var summary *scheduler.Summary
	if useProgress {
		summary, err = runWithProgress(ctx, cfg, doc, specs, exec, writer, logHandler, logger)
		if err != nil {
			return err
		}
	} else {
		sched := scheduler.New(scheduler.Options{
			Workers: cfg.Workers,
			Logger:  logger,
			Events:  writer,
		})
		summary = sched.Run(ctx, specs, exec.Execute)
	}

	tui.RenderSummary(os.Stderr, tui.DefaultTheme, summary)

	var deployErr error
	if doc.Deploy != nil {
		deployErr = runDeploy(ctx, doc, branch, runDir, runID, summary, writer, logger)
	}

	switch {
	case summary.Outcome == scheduler.OutcomeAborted:
		return &cli.ExitError{Code: cli.ExitInterrupted}
	case summary.Outcome == scheduler.OutcomeFailure:
		return &cli.ExitError{Code: cli.ExitFailure}
	case deployErr != nil:
		return &cli.ExitError{Code: cli.ExitDeploy}
	}
	return nil
}

// runWithProgress runs the scheduler behind a live terminal view. The
// view quits itself when the run finishes; if the user detaches first
// (q), the run keeps going and this blocks until it completes.
func runWithProgress(ctx context.Context, cfg *config.Config, doc *matrix.Document, specs []matrix.Spec, exec *executor.Executor, writer *report.Writer, logHandler *tui.LogHandler, logger *slog.Logger) (*scheduler.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progressEvents := tui.NewProgressEvents()
	model := tui.NewModel(doc.Name, len(specs), cancel)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	progressEvents.SetProgram(program)
	logHandler.SetProgram(program)

	sched := scheduler.New(scheduler.Options{
		Workers: cfg.Workers,
		Logger:  logger,
		Events:  scheduler.Multi(writer, progressEvents),
		// The view replaces the periodic progress log line.
		ProgressInterval: -1,
	})

	done := make(chan *scheduler.Summary, 1)
	go func() {
		done <- sched.Run(runCtx, specs, exec.Execute)
	}()

	if _, err := program.Run(); err != nil {
		// The run is already in flight; give up on the view and
		// let it finish headless.
		logger.Warn("progress view failed", "error", err)
	}

	return <-done, nil
}

// runDeploy evaluates and fires the deploy gate, records the outcome
// in the report, and renders the result. The returned error maps to
// the deploy exit code; it never changes the pipeline outcome.
func runDeploy(ctx context.Context, doc *matrix.Document, branch, runDir, runID string, summary *scheduler.Summary, writer *report.Writer, logger *slog.Logger) error {
	gate, err := deploy.New(deploy.Options{
		Document: doc,
		Branch:   branch,
		RunDir:   runDir,
		RunID:    runID,
		Output:   os.Stderr,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	decision := gate.Evaluate(summary)
	deployErr := gate.Fire(ctx, decision)

	line := report.DeployLine{
		Fired:  decision.Fire && deployErr == nil,
		Reason: decision.Reason,
		Branch: branch,
	}
	if deployErr != nil {
		line.Error = deployErr.Error()
		var gateErr *deploy.Error
		if errors.As(deployErr, &gateErr) {
			line.ExitCode = gateErr.ExitCode
		}
	}
	if err := writer.Deploy(line); err != nil {
		logger.Warn("report deploy line failed", "error", err)
	}

	tui.RenderDeploy(os.Stderr, tui.DefaultTheme, decision, deployErr)
	return deployErr
}

// resolveDurations merges the document's timing overrides onto the
// config defaults. Document values were already syntax-checked by
// Expand; config values by Validate.
func resolveDurations(cfg *config.Config, doc *matrix.Document) (timeout, quiet, grace time.Duration, err error) {
	if timeout, err = cfg.JobTimeout(); err != nil {
		return 0, 0, 0, err
	}
	if quiet, err = cfg.QuietTimeout(); err != nil {
		return 0, 0, 0, err
	}
	if grace, err = cfg.GracePeriod(); err != nil {
		return 0, 0, 0, err
	}
	if doc.Timeout != "" {
		if timeout, err = time.ParseDuration(doc.Timeout); err != nil {
			return 0, 0, 0, fmt.Errorf("document timeout: %w", err)
		}
	}
	if doc.QuietTimeout != "" {
		if quiet, err = time.ParseDuration(doc.QuietTimeout); err != nil {
			return 0, 0, 0, fmt.Errorf("document quiet_timeout: %w", err)
		}
	}
	return timeout, quiet, grace, nil
}

// newRunID builds the run directory name: UTC start time plus a short
// random suffix so two runs starting in the same second get distinct
// directories.
func newRunID(now time.Time) (string, error) {
	var suffix [2]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("generate run ID: %w", err)
	}
	return now.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(suffix[:]), nil
}

// loadCacheKey reads the cache master key file into guarded memory.
func loadCacheKey(path string) (*secret.Buffer, error) {
	key, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("cache encryption key: %w", err)
	}
	return key, nil
}
