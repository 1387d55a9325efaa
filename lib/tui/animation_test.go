// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"testing"
	"time"
)

func TestHeatDecay(t *testing.T) {
	start := time.Date(2026, 8, 25, 21, 0, 0, 0, time.UTC)
	tracker := NewHeatTracker()
	tracker.Ignite("rust=stable", HeatFailure, start)

	if got := tracker.Heat("rust=stable", start); got != 1.0 {
		t.Errorf("heat at ignition = %v, want 1.0", got)
	}
	if got := tracker.Heat("rust=stable", start.Add(HeatDecayDuration/2)); got != 0.5 {
		t.Errorf("heat at half decay = %v, want 0.5", got)
	}
	if got := tracker.Heat("rust=stable", start.Add(HeatDecayDuration)); got != 0.0 {
		t.Errorf("heat after decay = %v, want 0", got)
	}
	if got := tracker.Heat("rust=beta", start); got != 0.0 {
		t.Errorf("heat for unignited job = %v, want 0", got)
	}

	if tracker.Kind("rust=stable") != HeatFailure {
		t.Error("kind lost after ignition")
	}
}

func TestHeatReignite(t *testing.T) {
	start := time.Date(2026, 8, 25, 21, 0, 0, 0, time.UTC)
	tracker := NewHeatTracker()
	tracker.Ignite("a", HeatSuccess, start)

	// A second finish restarts the decay and may change the tint.
	later := start.Add(HeatDecayDuration * 2)
	tracker.Ignite("a", HeatFailure, later)

	if got := tracker.Heat("a", later); got != 1.0 {
		t.Errorf("heat after reignition = %v, want 1.0", got)
	}
	if tracker.Kind("a") != HeatFailure {
		t.Error("kind not updated on reignition")
	}
}
