// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"github.com/loom-build/loom/lib/executor"
	"github.com/loom-build/loom/lib/matrix"
)

// Events receives run-level lifecycle notifications. Calls happen
// inline on scheduler goroutines; implementations must return quickly
// and be safe for concurrent use (JobStarted and JobFinished arrive
// from multiple workers). Step-level detail travels inside each
// finished Result; per-step callbacks are the executor's own Events
// interface.
type Events interface {
	// RunStarted is called once, before any job is dispatched.
	RunStarted(total int)

	// JobStarted is called when a worker picks the job up.
	JobStarted(spec *matrix.Spec)

	// JobFinished is called with the job's result. Jobs the run was
	// cancelled before dispatching report an aborted result here too,
	// so every slot is announced exactly once.
	JobFinished(result *executor.Result)

	// RunFinished is called once, after the pool has drained.
	RunFinished(summary *Summary)
}

type nopEvents struct{}

func (nopEvents) RunStarted(int)               {}
func (nopEvents) JobStarted(*matrix.Spec)      {}
func (nopEvents) JobFinished(*executor.Result) {}
func (nopEvents) RunFinished(*Summary)         {}

// Multi fans notifications out to several observers in order. Nil
// observers are skipped.
func Multi(observers ...Events) Events {
	live := make([]Events, 0, len(observers))
	for _, observer := range observers {
		if observer != nil {
			live = append(live, observer)
		}
	}
	switch len(live) {
	case 0:
		return nopEvents{}
	case 1:
		return live[0]
	}
	return multiEvents(live)
}

type multiEvents []Events

func (m multiEvents) RunStarted(total int) {
	for _, observer := range m {
		observer.RunStarted(total)
	}
}

func (m multiEvents) JobStarted(spec *matrix.Spec) {
	for _, observer := range m {
		observer.JobStarted(spec)
	}
}

func (m multiEvents) JobFinished(result *executor.Result) {
	for _, observer := range m {
		observer.JobFinished(result)
	}
}

func (m multiEvents) RunFinished(summary *Summary) {
	for _, observer := range m {
		observer.RunFinished(summary)
	}
}
