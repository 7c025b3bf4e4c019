// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a Clock whose time only moves when Advance is called. Timers
// and tickers scheduled on it fire synchronously inside Advance, in
// deadline order, which makes periodic daemon loops deterministic in
// tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

// waiter is one pending timer, ticker tick, or After channel.
type waiter struct {
	at     time.Time
	period time.Duration // 0 for one-shot
	ch     chan time.Time
	fn     func()
	done   bool
}

// NewFake returns a Fake clock starting at a fixed, arbitrary instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d, firing every timer and ticker
// whose deadline is reached, in deadline order. AfterFunc callbacks run
// synchronously on the calling goroutine.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		next := f.nextDueLocked(target)
		if next == nil {
			break
		}
		f.now = next.at
		if next.period > 0 {
			next.at = next.at.Add(next.period)
		} else {
			next.done = true
		}
		fn, ch, now := next.fn, next.ch, f.now
		f.mu.Unlock()
		if ch != nil {
			select {
			case ch <- now:
			default: // ticker semantics: drop, don't queue
			}
		}
		if fn != nil {
			fn()
		}
		f.mu.Lock()
	}

	f.now = target
	f.compactLocked()
	f.mu.Unlock()
}

// nextDueLocked returns the earliest live waiter due at or before
// target, or nil.
func (f *Fake) nextDueLocked(target time.Time) *waiter {
	var due *waiter
	for _, w := range f.waiters {
		if w.done || w.at.After(target) {
			continue
		}
		if due == nil || w.at.Before(due.at) {
			due = w
		}
	}
	return due
}

func (f *Fake) compactLocked() {
	live := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.done {
			live = append(live, w)
		}
	}
	f.waiters = live
	sort.Slice(f.waiters, func(i, j int) bool { return f.waiters[i].at.Before(f.waiters[j].at) })
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	f.waiters = append(f.waiters, &waiter{at: f.now.Add(d), ch: ch})
	f.mu.Unlock()
	return ch
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) *Timer {
	f.mu.Lock()
	w := &waiter{at: f.now.Add(d), fn: fn}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()
	return &Timer{stopFunc: func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		fired := w.done
		w.done = true
		return !fired
	}}
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	w := &waiter{at: f.now.Add(d), period: d, ch: ch}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()
	return &Ticker{
		C: ch,
		stopFunc: func() {
			f.mu.Lock()
			w.done = true
			f.mu.Unlock()
		},
	}
}
