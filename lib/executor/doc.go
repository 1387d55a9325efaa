// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs one matrix job from cache acquire to cache
// release.
//
// A job moves through a fixed state machine: Preparing (cache
// acquire + install steps), Running (script steps), Succeeded or
// Failed, Finalizing (after_success + cache release), Done. The
// Finalizing phase is unconditional: it runs for failed, timed out,
// and aborted jobs alike, so the cache lease is always released
// exactly once.
//
// Steps execute via sh -c in their own process group; cancellation
// sends SIGTERM to the group and escalates to SIGKILL after the
// configured grace period. Wall-clock and quiet (no output) timeouts
// are driven by an injected clock.
package executor
