// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import (
	"sync"
)

// Thread stands in for the out-of-scope scheduler's thread structure
// (spec.md §6 "remaining_tick, init_tick, stat"). TickIncrease reads and
// mutates it exactly the way rt_tick_increase touches rt_thread_self().
type Thread interface {
	RemainingTick() uint32
	SetRemainingTick(uint32)
	InitTick() uint32
	SetYield()
}

// Scheduler is the narrow interface spec.md §1/§6 says the timer facility
// is used through, never ported: it stands in for thread_self and
// schedule() only; thread_suspend/thread_resume are not part of it (the
// soft-timer goroutine suspends itself, see softTimerThread). TickIncrease calls it (if non-nil) once per tick; a nil
// Scheduler simply skips the quantum bookkeeping, matching the "hook
// points... zero overhead when absent" guidance applied to an entire
// out-of-scope collaborator rather than a single hook.
type Scheduler interface {
	Self() Thread
	Reschedule()
}

// BasicThread is a minimal Thread usable in tests and in programs that do
// not otherwise have a scheduler (e.g. exercising TickIncrease's
// round-robin bookkeeping without a real RTOS underneath).
type BasicThread struct {
	mu       sync.Mutex
	remain   uint32
	initTick uint32
	yield    bool
}

// NewBasicThread returns a BasicThread with the given round-robin quantum.
func NewBasicThread(initTick uint32) *BasicThread {
	return &BasicThread{remain: initTick, initTick: initTick}
}

func (b *BasicThread) RemainingTick() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remain
}

func (b *BasicThread) SetRemainingTick(v uint32) {
	b.mu.Lock()
	b.remain = v
	b.mu.Unlock()
}

func (b *BasicThread) InitTick() uint32 { return b.initTick }

func (b *BasicThread) SetYield() {
	b.mu.Lock()
	b.yield = true
	b.mu.Unlock()
}

// Yielded reports and clears the pending-yield flag.
func (b *BasicThread) Yielded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	y := b.yield
	b.yield = false
	return y
}

// GoScheduler is a minimal Scheduler good enough to drive TickIncrease's
// round-robin bookkeeping in tests or small standalone programs; it runs
// no goroutine of its own and has exactly one schedulable Thread (Self).
type GoScheduler struct {
	self          *BasicThread
	rescheduled   uint64
	rescheduledMu sync.Mutex
}

// NewGoScheduler returns a GoScheduler with a fresh BasicThread of the
// given quantum as its single Self().
func NewGoScheduler(quantum uint32) *GoScheduler {
	return &GoScheduler{self: NewBasicThread(quantum)}
}

func (g *GoScheduler) Self() Thread { return g.self }

// Reschedule counts how many times a reschedule was requested; there is no
// real scheduler underneath to preempt, so this is purely observable state
// for tests.
func (g *GoScheduler) Reschedule() {
	g.rescheduledMu.Lock()
	g.rescheduled++
	g.rescheduledMu.Unlock()
}

// Rescheduled returns the number of Reschedule() calls observed so far.
func (g *GoScheduler) Rescheduled() uint64 {
	g.rescheduledMu.Lock()
	defer g.rescheduledMu.Unlock()
	return g.rescheduled
}
