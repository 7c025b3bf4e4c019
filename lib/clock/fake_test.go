// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresAfter(t *testing.T) {
	t.Parallel()
	fake := NewFake()

	ch := fake.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(10 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterFuncOrderAndStop(t *testing.T) {
	t.Parallel()
	fake := NewFake()

	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	stopped := fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	if !stopped.Stop() {
		t.Fatal("Stop on a pending timer returned false")
	}

	fake.Advance(5 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("callbacks fired as %v, want [1 3]", order)
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	t.Parallel()
	fake := NewFake()

	ticker := fake.NewTicker(time.Minute)
	defer ticker.Stop()

	ticks := 0
	for range 3 {
		fake.Advance(time.Minute)
		select {
		case <-ticker.C:
			ticks++
		default:
		}
	}
	if ticks != 3 {
		t.Errorf("got %d ticks over 3 minutes, want 3", ticks)
	}

	ticker.Stop()
	fake.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Error("stopped ticker still ticked")
	default:
	}
}

func TestFakeAdvanceMovesNow(t *testing.T) {
	t.Parallel()
	fake := NewFake()
	start := fake.Now()
	fake.Advance(90 * time.Second)
	if got := fake.Now().Sub(start); got != 90*time.Second {
		t.Errorf("Now moved by %v, want 90s", got)
	}
}
