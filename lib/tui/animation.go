// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"time"
)

// HeatDecayDuration is how long a job row glows after its result
// lands. Heat starts at 1.0 and decays linearly to 0.0 over this
// duration.
const HeatDecayDuration = 4 * time.Second

// HeatKind selects the glow tint for a finished job.
type HeatKind int

const (
	// HeatSuccess marks a job that succeeded or whose failure is
	// suppressed (green tint).
	HeatSuccess HeatKind = iota
	// HeatFailure marks a job whose failure counts (red tint).
	HeatFailure
)

// heatEntry records when and how a job finished.
type heatEntry struct {
	ignition time.Time
	kind     HeatKind
}

// HeatTracker maps job names to ignition timestamps for animated
// finish highlighting. Each finished job "ignites" its row, which
// then decays from full intensity to zero over [HeatDecayDuration].
type HeatTracker struct {
	entries map[string]heatEntry
}

// NewHeatTracker creates an empty heat tracker.
func NewHeatTracker() *HeatTracker {
	return &HeatTracker{
		entries: make(map[string]heatEntry),
	}
}

// Ignite records a finish event for a job. Resets the decay timer if
// the row was already hot.
func (tracker *HeatTracker) Ignite(jobName string, kind HeatKind, now time.Time) {
	tracker.entries[jobName] = heatEntry{ignition: now, kind: kind}
}

// Heat returns the current intensity for a job: 1.0 at ignition,
// linearly decaying to 0.0 over [HeatDecayDuration]. Returns 0.0 for
// jobs that never finished or have fully decayed.
func (tracker *HeatTracker) Heat(jobName string, now time.Time) float64 {
	entry, exists := tracker.entries[jobName]
	if !exists {
		return 0.0
	}
	elapsed := now.Sub(entry.ignition)
	if elapsed >= HeatDecayDuration {
		return 0.0
	}
	return 1.0 - float64(elapsed)/float64(HeatDecayDuration)
}

// Kind returns the heat kind for a job. Only meaningful when Heat()
// returns > 0.
func (tracker *HeatTracker) Kind(jobName string) HeatKind {
	entry, exists := tracker.entries[jobName]
	if !exists {
		return HeatSuccess
	}
	return entry.kind
}
