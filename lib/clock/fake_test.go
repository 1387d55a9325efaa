// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	c.Advance(90 * time.Second)
	want := epoch.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfter(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(3 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(2 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(1 * time.Second)
	select {
	case fired := <-ch:
		want := epoch.Add(3 * time.Second)
		if !fired.Equal(want) {
			t.Fatalf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-c.After(d):
		default:
			t.Fatalf("After(%v) should fire immediately", d)
		}
	}
}

func TestFakeAfterFuncOrdering(t *testing.T) {
	c := Fake(epoch)

	var order []int
	var mu sync.Mutex
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	c.AfterFunc(3*time.Second, record(3))
	c.AfterFunc(1*time.Second, record(1))
	c.AfterFunc(2*time.Second, record(2))

	c.Advance(5 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks fired in order %v, want [1 2 3]", order)
	}
}

func TestFakeAfterFuncEqualDeadlinesFIFO(t *testing.T) {
	c := Fake(epoch)

	var order []int
	for i := range 4 {
		n := i
		c.AfterFunc(time.Second, func() { order = append(order, n) })
	}
	c.Advance(time.Second)

	for i, n := range order {
		if n != i {
			t.Fatalf("equal-deadline callbacks fired in order %v, want registration order", order)
		}
	}
}

func TestFakeAfterFuncSeesOwnDeadline(t *testing.T) {
	c := Fake(epoch)

	var observed time.Time
	c.AfterFunc(2*time.Second, func() { observed = c.Now() })
	c.Advance(10 * time.Second)

	want := epoch.Add(2 * time.Second)
	if !observed.Equal(want) {
		t.Fatalf("callback observed Now() = %v, want its deadline %v", observed, want)
	}
	if got := c.Now(); !got.Equal(epoch.Add(10 * time.Second)) {
		t.Fatalf("final Now() = %v, want full advance target", got)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)

	var fired atomic.Bool
	timer := c.AfterFunc(time.Second, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}

	c.Advance(5 * time.Second)
	if fired.Load() {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeAfterFuncResetAfterFire(t *testing.T) {
	c := Fake(epoch)

	var count atomic.Int32
	timer := c.AfterFunc(time.Second, func() { count.Add(1) })

	c.Advance(time.Second)
	if got := count.Load(); got != 1 {
		t.Fatalf("fire count = %d, want 1", got)
	}

	if timer.Reset(time.Second) {
		t.Fatal("Reset after fire should return false")
	}
	c.Advance(time.Second)
	if got := count.Load(); got != 2 {
		t.Fatalf("fire count after Reset = %d, want 2", got)
	}

	// Stop must target the reset entry, not the consumed one.
	timer.Reset(time.Second)
	if !timer.Stop() {
		t.Fatal("Stop after Reset should return true")
	}
	c.Advance(time.Second)
	if got := count.Load(); got != 2 {
		t.Fatalf("fire count after Stop = %d, want 2", got)
	}
}

func TestFakeAfterFuncImmediate(t *testing.T) {
	c := Fake(epoch)

	var fired bool
	c.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("AfterFunc(0) should run synchronously")
	}
}

func TestFakeTickerCadence(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	// An advance spanning several intervals fires per interval, but
	// the capacity-1 channel keeps only the earliest undelivered tick.
	c.Advance(3 * time.Second)

	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not tick")
	}

	c.Advance(time.Second)
	select {
	case tick := <-ticker.C:
		if tick.Before(epoch.Add(4 * time.Second)) {
			t.Fatalf("tick time %v predates the advance window", tick)
		}
	default:
		t.Fatal("ticker did not keep ticking after drain")
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)

	c.Advance(time.Second)
	<-ticker.C

	ticker.Stop()
	c.Advance(5 * time.Second)

	select {
	case <-ticker.C:
		t.Fatal("stopped ticker ticked")
	default:
	}
}

func TestFakeTickerNonPositivePanics(t *testing.T) {
	c := Fake(epoch)
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) should panic")
		}
	}()
	c.NewTicker(0)
}

func TestFakeSleepBlocksUntilAdvance(t *testing.T) {
	c := Fake(epoch)

	done := make(chan struct{})
	go func() {
		c.Sleep(5 * time.Second)
		close(done)
	}()

	c.WaitForTimers(1)

	select {
	case <-done:
		t.Fatal("Sleep returned before Advance")
	default:
	}

	c.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)

	go c.After(time.Second)
	go c.After(2 * time.Second)

	c.WaitForTimers(2)
	if got := c.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}

	c.Advance(2 * time.Second)
	if got := c.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() after firing = %d, want 0", got)
	}
}

func TestFakeCallbackMayRegisterTimers(t *testing.T) {
	c := Fake(epoch)

	var chained atomic.Bool
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { chained.Store(true) })
	})

	// Both the original and the chained callback fall inside one
	// advance window.
	c.Advance(2 * time.Second)
	if !chained.Load() {
		t.Fatal("timer registered by a callback did not fire within the same Advance")
	}
}
