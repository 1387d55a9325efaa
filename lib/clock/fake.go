// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Time moves only
// when Advance is called; all timer, ticker, and sleep operations
// register pending events that fire when the clock passes their
// deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.registered = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Pending events are
// kept in a deadline-ordered heap; events with equal deadlines fire in
// registration order.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. Calling Advance or Sleep from within a callback deadlocks.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	events     eventHeap
	registered *sync.Cond
	seq        uint64
}

// event is one pending timer, ticker, or sleep.
type event struct {
	when time.Time
	seq  uint64 // registration order, tie-break for equal deadlines

	// ch receives the fire time for After, Sleep, and ticker events.
	// Nil for AfterFunc events.
	ch chan time.Time

	// fn runs synchronously during Advance. Nil except for AfterFunc.
	fn func()

	// every is non-zero for tickers: after firing, the event is
	// rescheduled at when + every.
	every time.Duration

	stopped bool
	fired   bool
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].when.Equal(h[j].when) {
		return h[i].when.Before(h[j].when)
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// schedule registers an event and wakes WaitForTimers callers. Caller
// holds c.mu.
func (c *FakeClock) schedule(e *event) {
	c.seq++
	e.seq = c.seq
	heap.Push(&c.events, e)
	c.registered.Broadcast()
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock advances past
// duration d. If d <= 0 the channel receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.schedule(&event{when: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc schedules f to run after duration d. If d <= 0, f runs
// synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()

	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	// live tracks the current heap entry across Resets so Stop always
	// targets the entry that would actually fire.
	live := &event{when: c.now.Add(d), fn: f}
	c.schedule(live)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if live.stopped || live.fired {
				return false
			}
			live.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := !live.stopped && !live.fired
			live.stopped = true
			fresh := &event{when: c.now.Add(d), fn: f}
			c.schedule(fresh)
			live = fresh
			return wasActive
		},
	}
}

// NewTicker returns a Ticker firing every d. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()

	ch := make(chan time.Time, 1)
	live := &event{when: c.now.Add(d), ch: ch, every: d}
	c.schedule(live)
	c.mu.Unlock()

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			live.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			live.stopped = true
			fresh := &event{when: c.now.Add(d), ch: ch, every: d}
			c.schedule(fresh)
			live = fresh
		},
	}
}

// Sleep blocks the calling goroutine until the clock advances past
// the deadline. Returns immediately when d <= 0.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every pending event
// whose deadline falls within the new time, in deadline order. The
// clock observes each event's deadline as it fires, so an AfterFunc
// callback reading Now sees its own deadline, not the final target.
//
// Channel sends are non-blocking: a full channel drops the tick, the
// same way time.Ticker does.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)

	for {
		next := c.popDueLocked(target)
		if next == nil {
			break
		}
		if next.when.After(c.now) {
			c.now = next.when
		}
		if next.every > 0 {
			// Reschedule the same event object so a Stop issued
			// later still targets the live entry. The next deadline
			// anchors to the previous one, preserving cadence.
			next.fired = false
			next.when = next.when.Add(next.every)
			c.schedule(next)
		}

		if next.fn != nil {
			// Run the callback without the lock so it can register
			// new timers.
			fn := next.fn
			c.mu.Unlock()
			fn()
			c.mu.Lock()
		} else if next.ch != nil {
			select {
			case next.ch <- c.now:
			default:
			}
		}
	}

	c.now = target
	c.mu.Unlock()
}

// popDueLocked removes and returns the earliest live event with a
// deadline at or before target, discarding stopped events along the
// way. Returns nil when nothing is due. Caller holds c.mu.
func (c *FakeClock) popDueLocked(target time.Time) *event {
	for c.events.Len() > 0 {
		head := c.events[0]
		if head.when.After(target) {
			return nil
		}
		heap.Pop(&c.events)
		if head.stopped {
			continue
		}
		head.fired = true
		return head
	}
	return nil
}

// WaitForTimers blocks until at least n events are pending. Use this
// to close the race between a goroutine registering a timer and the
// test advancing the clock:
//
//	go func() { c.Sleep(5 * time.Second) }()
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.registered.Wait()
	}
}

// PendingCount returns the number of live pending events.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, e := range c.events {
		if !e.stopped {
			count++
		}
	}
	return count
}
