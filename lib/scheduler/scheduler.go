// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
)

// defaultProgressInterval is how often the progress tick logs
// completed/total while jobs run.
const defaultProgressInterval = 10 * time.Second

// Outcome is the aggregate pipeline verdict.
type Outcome string

const (
	// OutcomeSuccess means every job that counts succeeded. Suppressed
	// allow-failure jobs never block it.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means at least one counting job failed, errored,
	// or aborted.
	OutcomeFailure Outcome = "failure"

	// OutcomeAborted means the run itself was cancelled.
	OutcomeAborted Outcome = "aborted"
)

// RunFunc executes one job and returns its result. The scheduler
// passes the run context through; the function must honor cancellation
// but always return a result.
type RunFunc func(ctx context.Context, spec *matrix.Spec) *executor.Result

// Options configures a Scheduler.
type Options struct {
	// Workers bounds job concurrency. Zero or negative uses the CPU
	// count.
	Workers int

	// Clock drives the progress tick and wall timing. If nil, the
	// real clock is used.
	Clock clock.Clock

	// Logger receives run-level messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// Events receives lifecycle notifications. May be nil.
	Events Events

	// ProgressInterval is the period of the completed/total progress
	// log line. Zero uses a 10 second default; negative disables the
	// tick.
	ProgressInterval time.Duration
}

// Scheduler runs expanded job lists through a worker pool.
type Scheduler struct {
	workers  int
	clk      clock.Clock
	logger   *slog.Logger
	events   Events
	interval time.Duration
}

// New returns a Scheduler. All options have working defaults.
func New(opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	events := opts.Events
	if events == nil {
		events = nopEvents{}
	}
	interval := opts.ProgressInterval
	switch {
	case interval == 0:
		interval = defaultProgressInterval
	case interval < 0:
		interval = 0
	}

	return &Scheduler{
		workers:  workers,
		clk:      clk,
		logger:   logger,
		events:   events,
		interval: interval,
	}
}

// Run dispatches every job to the pool and blocks until all of them
// have resolved. A cancelled context stops dispatching; jobs already
// handed to a worker still run their full state machine, and jobs
// never dispatched resolve to aborted results. The returned summary
// always holds exactly one result per job, in expansion order.
func (s *Scheduler) Run(ctx context.Context, jobs []matrix.Spec, run RunFunc) *Summary {
	started := s.clk.Now()
	total := len(jobs)
	workers := s.workers
	if workers > total {
		workers = total
	}

	s.events.RunStarted(total)
	s.logger.Info("run started", "jobs", total, "workers", workers)

	results := make([]*executor.Result, total)
	var completed atomic.Int64

	stopProgress := s.startProgress(&completed, total)

	type task struct {
		index int
		spec  *matrix.Spec
	}
	tasks := make(chan task)

	var pool sync.WaitGroup
	for range workers {
		pool.Add(1)
		go func() {
			defer pool.Done()
			for item := range tasks {
				s.events.JobStarted(item.spec)
				s.logger.Info("job started", "job", item.spec.Name)
				result := run(ctx, item.spec)
				results[item.index] = result
				completed.Add(1)
				s.events.JobFinished(result)
			}
		}()
	}

	skip := func(index int) {
		result := abortedBeforeStart(&jobs[index], s.clk.Now())
		results[index] = result
		completed.Add(1)
		s.events.JobFinished(result)
	}
	for index := range jobs {
		// The explicit check keeps the select below from racing a
		// ready worker against an already-cancelled context.
		if ctx.Err() != nil {
			skip(index)
			continue
		}
		select {
		case tasks <- task{index: index, spec: &jobs[index]}:
		case <-ctx.Done():
			skip(index)
		}
	}
	close(tasks)
	pool.Wait()
	stopProgress()

	summary := s.summarize(results, started, ctx.Err() != nil)
	s.events.RunFinished(summary)
	s.logger.Info("run finished",
		"outcome", string(summary.Outcome),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"errored", summary.Errored,
		"aborted", summary.Aborted,
		"suppressed", summary.Suppressed,
		"duration", summary.Duration().Round(time.Millisecond).String(),
	)
	return summary
}

// startProgress launches the periodic completed/total log line.
// Returns a stop function that waits for the loop to exit.
func (s *Scheduler) startProgress(completed *atomic.Int64, total int) func() {
	if s.interval <= 0 || total == 0 {
		return func() {}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := s.clk.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.logger.Info("run progress",
					"completed", completed.Load(),
					"total", total,
				)
			}
		}
	}()

	return func() {
		close(stop)
		<-stopped
	}
}

// abortedBeforeStart is the result recorded for a job the run was
// cancelled before dispatching.
func abortedBeforeStart(spec *matrix.Spec, now time.Time) *executor.Result {
	return &executor.Result{
		Spec:          spec,
		Outcome:       executor.OutcomeAborted,
		Suppressed:    spec.AllowFailure,
		ExitCode:      -1,
		FailureReason: "run cancelled before the job started",
		Started:       now,
		Finished:      now,
	}
}

// Summary is the aggregate view of one run.
type Summary struct {
	// Results holds one entry per job, in expansion order.
	Results []*executor.Result

	// Outcome is the pipeline verdict. Success requires every
	// non-suppressed job to have succeeded.
	Outcome Outcome

	// Succeeded counts jobs with a success outcome. Suppressed counts
	// allow-failure jobs that did not succeed; Failed, Errored, and
	// Aborted count only jobs whose verdict counts against the
	// pipeline. The five buckets partition Results.
	Succeeded  int
	Failed     int
	Errored    int
	Aborted    int
	Suppressed int

	// Started and Finished bound the whole run.
	Started  time.Time
	Finished time.Time
}

// Total returns the number of jobs in the run.
func (s *Summary) Total() int { return len(s.Results) }

// Duration returns the run's wall time.
func (s *Summary) Duration() time.Duration { return s.Finished.Sub(s.Started) }

func (s *Scheduler) summarize(results []*executor.Result, started time.Time, interrupted bool) *Summary {
	summary := &Summary{
		Results:  results,
		Started:  started,
		Finished: s.clk.Now(),
	}

	for _, result := range results {
		switch {
		case result.Outcome == executor.OutcomeSuccess:
			summary.Succeeded++
		case result.Suppressed:
			summary.Suppressed++
		case result.Outcome == executor.OutcomeFailed:
			summary.Failed++
		case result.Outcome == executor.OutcomeErrored:
			summary.Errored++
		case result.Outcome == executor.OutcomeAborted:
			summary.Aborted++
		}
	}

	switch {
	case interrupted:
		summary.Outcome = OutcomeAborted
	case summary.Failed+summary.Errored+summary.Aborted > 0:
		summary.Outcome = OutcomeFailure
	default:
		summary.Outcome = OutcomeSuccess
	}
	return summary
}
