// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"regexp"
	"testing"
	"time"

	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/matrix"
)

func TestNewRunID(t *testing.T) {
	start := time.Date(2026, 8, 25, 18, 30, 0, 0, time.UTC)

	id, err := newRunID(start)
	if err != nil {
		t.Fatalf("newRunID: %v", err)
	}

	pattern := regexp.MustCompile(`^20260825-183000-[0-9a-f]{4}$`)
	if !pattern.MatchString(id) {
		t.Errorf("run ID %q does not match %s", id, pattern)
	}

	// The suffix makes same-second runs distinct. Two collisions in
	// a row would mean the suffix is not random at all.
	other, err := newRunID(start)
	if err != nil {
		t.Fatalf("newRunID: %v", err)
	}
	third, err := newRunID(start)
	if err != nil {
		t.Fatalf("newRunID: %v", err)
	}
	if id == other && id == third {
		t.Errorf("three identical run IDs %q: suffix is not random", id)
	}
}

func TestResolveDurations(t *testing.T) {
	cfg := config.Default()

	t.Run("config defaults", func(t *testing.T) {
		timeout, quiet, grace, err := resolveDurations(cfg, &matrix.Document{})
		if err != nil {
			t.Fatalf("resolveDurations: %v", err)
		}
		if timeout != 50*time.Minute {
			t.Errorf("timeout = %v, want 50m", timeout)
		}
		if quiet != 10*time.Minute {
			t.Errorf("quiet = %v, want 10m", quiet)
		}
		if grace != 10*time.Second {
			t.Errorf("grace = %v, want 10s", grace)
		}
	})

	t.Run("document overrides", func(t *testing.T) {
		doc := &matrix.Document{Timeout: "90m", QuietTimeout: "0"}
		timeout, quiet, _, err := resolveDurations(cfg, doc)
		if err != nil {
			t.Fatalf("resolveDurations: %v", err)
		}
		if timeout != 90*time.Minute {
			t.Errorf("timeout = %v, want 90m", timeout)
		}
		if quiet != 0 {
			t.Errorf("quiet = %v, want 0 (disabled)", quiet)
		}
	})

	t.Run("bad document timeout", func(t *testing.T) {
		doc := &matrix.Document{Timeout: "soon"}
		if _, _, _, err := resolveDurations(cfg, doc); err == nil {
			t.Error("resolveDurations = nil, want error for unparseable timeout")
		}
	})
}
