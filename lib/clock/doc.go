// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Production code accepts a Clock parameter instead of calling the time
// package directly; Real() supplies standard behavior and Fake()
// supplies a deterministic clock driven by Advance. Loom's job timeouts,
// quiet-output watchdogs, and progress tickers all run on a Clock so
// their tests never sleep.
//
// Structs that use time carry a Clock field:
//
//	type Executor struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// Tests pair WaitForTimers with Advance to remove the race between a
// goroutine registering a timer and the test firing it:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start the code under test ...
//	c.WaitForTimers(1)
//	c.Advance(10 * time.Minute)
package clock
