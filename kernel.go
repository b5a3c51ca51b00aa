// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package rtcore implements the tick-driven timer facility and small
// heap allocator of a preemptive real-time kernel: a per-scope skip-list
// timer wheel with hard (ISR-context) and soft (dedicated goroutine)
// dispatch paths, and a first-fit block allocator with split/coalesce.
package rtcore

import (
	"sync"
	"sync/atomic"
	"time"
)

// Debug gates the programmer-error assertion path (spec.md §7): when true,
// InvalidArgument-class mistakes PANIC; when false (the default, "release")
// they are only BUG-logged and the call is a no-op, matching "undefined in
// release" with a safe fallback instead of actually corrupting state.
var Debug = false

// assertArg reports cond and, if it is false, asserts via BUG/PANIC
// depending on Debug.
func assertArg(cond bool, format string, args ...interface{}) bool {
	if cond {
		return true
	}
	if Debug {
		PANIC(format, args...)
	} else {
		BUG(format, args...)
	}
	return false
}

// Kernel ties together the tick counter, the two timer scopes (hard,
// soft) and the object registry -- the process-wide singleton described in
// spec.md §9 "Global state". Kernel.opLock stands in for "interrupts
// globally disabled" exactly the way wtimer's opLock does (see
// DESIGN.md).
type Kernel struct {
	opLock sync.Mutex

	tick     uint64   // current Tick value, cpu 0 / non-SMP case
	ticksSMP []uint64 // per-CPU counters, used only when SMP == true

	hard scope
	soft scope

	Registry Registry

	// Scheduler is consulted from TickIncrease for round-robin quantum
	// bookkeeping; nil is valid and simply skips it (spec §1 "out of
	// scope").
	Scheduler Scheduler

	tickDuration time.Duration

	// soft-timer thread plumbing (spec.md §4.2 "Soft-timer thread").
	softWake      chan struct{} // buffered 1: "resume timer thread"
	softSuspended uint32        // atomic bool
	softBusy      uint32        // atomic bool: a soft callback is in flight

	cancel  chan struct{}
	wg      sync.WaitGroup
	started bool

	// Drift-correction state for the internal tick source (ticker.go),
	// the Go analogue of wtimer's refTS/refTicks/lastTickT/badTime fields
	// kept directly on WTimer.
	tsrc tickSource

	// Hook points (spec.md §9, SPEC_FULL "SUPPLEMENTED FEATURES"):
	// nullable, zero overhead when nil.
	OnTimerEnter func(t *Timer)
	OnTimerExit  func(t *Timer)
	OnTick       func()
}

// Init prepares a zero-value Kernel for use. tickDuration is the wall-clock
// length of one Tick, used by Start, by the soft-timer thread_delay
// emulation and, in TimerCheck/SoftTimerCheck, to convert a re-arm
// interval returned by a callback into ticks.
// Init prepares k to run with the given tick duration, the Go analogue
// of wtimer.Init's tickDuration bound (wtimer.go: "tick duration too
// small" below time.Microsecond -- a shorter period than the scheduler
// and hard-timer check can realistically service).
func (k *Kernel) Init(tickDuration time.Duration) error {
	if tickDuration < time.Microsecond {
		return ErrDurationTooSmall
	}
	k.hard.init()
	k.soft.init()
	k.Registry.init()
	k.tickDuration = tickDuration
	k.softWake = make(chan struct{}, 1)
	return nil
}

// ---- tick counter (spec.md §4.1) ----

func (k *Kernel) tickSlot(cpu int) *uint64 {
	if !SMP || cpu == 0 {
		return &k.tick
	}
	k.opLock.Lock()
	for len(k.ticksSMP) <= cpu {
		k.ticksSMP = append(k.ticksSMP, 0)
	}
	slot := &k.ticksSMP[cpu]
	k.opLock.Unlock()
	return slot
}

// TickGet returns cpu 0's current tick (the common, non-SMP call).
func (k *Kernel) TickGet() Tick { return k.TickGetCPU(0) }

// TickGetCPU returns the given CPU's current tick (only meaningful when
// SMP is true; cpu is otherwise ignored).
func (k *Kernel) TickGetCPU(cpu int) Tick {
	return NewTick(atomic.LoadUint64(k.tickSlot(cpu)))
}

// TickSet atomically stores v as cpu 0's tick counter.
func (k *Kernel) TickSet(v Tick) { k.TickSetCPU(0, v) }

// TickSetCPU atomically stores v as the given CPU's tick counter.
func (k *Kernel) TickSetCPU(cpu int, v Tick) {
	atomic.StoreUint64(k.tickSlot(cpu), v.Val())
}

// TickIncrease is the periodic clock ISR entry point (spec.md §4.1):
// advances the tick counter, decrements the running thread's quantum
// (reloading and requesting a reschedule on expiry) and then runs the hard
// timer check. It must not be called concurrently with itself.
func (k *Kernel) TickIncrease() {
	k.TickIncreaseCPU(0)
}

// TickIncreaseCPU is TickIncrease for a specific CPU id (SMP).
func (k *Kernel) TickIncreaseCPU(cpu int) {
	atomic.AddUint64(k.tickSlot(cpu), 1)
	if k.OnTick != nil {
		k.OnTick()
	}
	if k.Scheduler != nil {
		th := k.Scheduler.Self()
		if th != nil {
			remain := th.RemainingTick()
			if remain > 0 {
				remain--
			}
			if remain == 0 {
				remain = th.InitTick()
				th.SetYield()
				k.Scheduler.Reschedule()
			}
			th.SetRemainingTick(remain)
		}
	}
	k.TimerCheck()
}

// TickFromMillis converts a millisecond count to a Tick (spec.md §4.1):
// negative maps to the TickForever sentinel, otherwise
// floor(ms/1000)*TicksPerSec + ceil((ms mod 1000)*TicksPerSec/1000).
func (k *Kernel) TickFromMillis(ms int32) Tick {
	if ms < 0 {
		return NewTick(TickForever)
	}
	sec := uint64(ms) / 1000
	rem := uint64(ms) % 1000
	whole := sec * TicksPerSec
	frac := (rem*TicksPerSec + 999) / 1000 // ceil
	return NewTick(whole + frac)
}

// TickToMillis converts the current tick to milliseconds; only exact when
// TicksPerSec divides 1000 (spec.md §4.1).
func (k *Kernel) TickToMillis() uint32 {
	return uint32(k.TickGet().Val() * (1000 / TicksPerSec))
}

// Ticks converts a time.Duration to a Tick (round down) plus the
// remainder, the way wtimer.Ticks does.
func (k *Kernel) Ticks(d time.Duration) (Tick, time.Duration) {
	if k.tickDuration != 0 {
		n := d / k.tickDuration
		return NewTick(uint64(n)), d % k.tickDuration
	}
	return NewTick(0), d
}

// Duration converts a Tick count to a time.Duration at this Kernel's
// configured tick length.
func (k *Kernel) Duration(t Tick) time.Duration {
	return time.Duration(t.Val()) * k.tickDuration
}

// TicksRoundUp is Ticks rounded up when the remainder is at least half a
// tick or when the whole-tick count is 0 (so the result is never 0),
// matching wtimer.TicksRoundUp -- used when converting a callback's
// requested re-arm duration.
func (k *Kernel) TicksRoundUp(d time.Duration) Tick {
	ticks, rest := k.Ticks(d)
	if ticks.Val() == 0 || rest >= 50*k.tickDuration/100 {
		return ticks.AddUint64(1)
	}
	return ticks
}

// ---- timer lifecycle (spec.md §4.2, §6) ----

func (k *Kernel) scopeFor(t *Timer) *scope {
	if t.SoftTimer() {
		return &k.soft
	}
	return &k.hard
}

// TimerInit performs a static (non-heap) init of t, the Go analogue of
// timer_init(&timer, name, cb, arg, ticks, flags).
func (k *Kernel) TimerInit(t *Timer, name string, cb TimerFunc, arg interface{}, reload Tick, flags uint8) {
	if !assertArg(cb != nil, "TimerInit(%q): nil callback\n", name) {
		return
	}
	if !assertArg(reload.Val() < MaxTicksDiff, "TimerInit(%q): reload %v >= half range\n", name, reload) {
		return
	}
	t.name = name
	t.f = cb
	t.arg = arg
	t.initTick = reload
	t.k = k
	t.state = timerState{}
	t.state.setFlags(flags & (fPeriodic | fSoftTimer))
	t.forceDetached()
	k.Registry.Register(name, t)
}

// TimerDetach unlinks t (if active) and removes it from the registry. It
// is always safe to call, matching rt_timer_detach.
func (k *Kernel) TimerDetach(t *Timer) error {
	k.opLock.Lock()
	if t.Activated() {
		k.scopeFor(t).remove(t)
		t.state.resetFlags(fActivated)
	}
	k.opLock.Unlock()
	k.Registry.Detach(t.name)
	return nil
}

// TimerCreate heap-allocates (via Go's own allocator, per spec.md §2
// "create/delete (heap-backed)") and initializes a new Timer.
func (k *Kernel) TimerCreate(name string, cb TimerFunc, arg interface{}, reload Tick, flags uint8) *Timer {
	t := &Timer{}
	k.TimerInit(t, name, cb, arg, reload, flags)
	return t
}

// TimerDelete detaches t; in Go there is no explicit free, the garbage
// collector reclaims it once the caller drops its last reference.
func (k *Kernel) TimerDelete(t *Timer) error {
	return k.TimerDetach(t)
}

// timerStartLocked assumes k.opLock is held. It (re)computes timeoutTick
// from the current tick and links t into the appropriate scope.
func (k *Kernel) timerStartLocked(t *Timer) {
	sc := k.scopeFor(t)
	sc.remove(t) // spec.md §4.2 "if the timer is already linked, unlink it"
	t.state.resetFlags(fActivated)
	t.timeoutTick = k.TickGet().Add(t.initTick)
	sc.insert(t)
	t.state.setFlags(fActivated)
	if t.SoftTimer() {
		k.wakeSoftTimer()
	}
}

// TimerStart (re)starts t: unlinks it if already active, computes a fresh
// timeout_tick = tick_get() + init_tick and inserts it into its scope's
// skip list.
func (k *Kernel) TimerStart(t *Timer) error {
	if !assertArg(t != nil, "TimerStart: nil timer\n") {
		return ErrInvalidTimer
	}
	k.opLock.Lock()
	k.timerStartLocked(t)
	k.opLock.Unlock()
	return nil
}

// TimerStop removes t from its scope. Returns ErrNotActive if t was not
// active (returned, never asserted, per spec.md §7).
func (k *Kernel) TimerStop(t *Timer) error {
	k.opLock.Lock()
	defer k.opLock.Unlock()
	if !t.Activated() {
		return ErrNotActive
	}
	k.scopeFor(t).remove(t)
	t.state.resetFlags(fActivated)
	return nil
}

// TimerCmd enumerates TimerControl commands (spec.md §6).
type TimerCmd int

const (
	CmdGetTime TimerCmd = iota
	CmdSetTime
	CmdSetOneShot
	CmdSetPeriodic
	CmdGetState
	CmdGetRemainTime
)

// TimerControl implements get/set of init_tick, oneshot/periodic,
// activation state and remaining ticks. GetState and GetRemainTime are
// deliberately independent switch cases (spec.md §9 Open Question: the
// reference implementation's GET_STATE falls through into
// GET_REMAIN_TIME; this is treated as a bug and not reproduced, see
// DESIGN.md).
func (k *Kernel) TimerControl(t *Timer, cmd TimerCmd, arg interface{}) error {
	k.opLock.Lock()
	defer k.opLock.Unlock()
	switch cmd {
	case CmdGetTime:
		p, ok := arg.(*Tick)
		if !ok {
			return ErrInvalidParameters
		}
		*p = t.initTick
	case CmdSetTime:
		p, ok := arg.(*Tick)
		if !ok {
			return ErrInvalidParameters
		}
		if p.Val() >= MaxTicksDiff {
			return ErrTicksTooHigh
		}
		t.initTick = *p
	case CmdSetOneShot:
		t.state.resetFlags(fPeriodic)
	case CmdSetPeriodic:
		t.state.setFlags(fPeriodic)
	case CmdGetState:
		p, ok := arg.(*bool)
		if !ok {
			return ErrInvalidParameters
		}
		*p = t.Activated()
	case CmdGetRemainTime:
		p, ok := arg.(*Tick)
		if !ok {
			return ErrInvalidParameters
		}
		if !t.Activated() {
			*p = NewTick(0)
		} else {
			*p = t.timeoutTick.Sub(k.TickGet())
		}
	default:
		return ErrInvalidParameters
	}
	return nil
}

// ---- expiry check (spec.md §4.2) ----

// TimerCheck is the hard-timer expiry check, called synchronously from
// TickIncrease with the kernel lock held across each callback (the
// ISR-equivalent "interrupts still disabled" path).
func (k *Kernel) TimerCheck() {
	k.checkScope(&k.hard, true)
}

// SoftTimerCheck is the soft-timer expiry check: the lock is released
// around each callback so soft timers run with "interrupts enabled",
// matching wtimer's unlock()/lock() pair around t.f(...).
func (k *Kernel) SoftTimerCheck() {
	k.checkScope(&k.soft, false)
}

func (k *Kernel) checkScope(sc *scope, hard bool) {
	const top = SkipListLevels - 1
	for {
		k.opLock.Lock()
		now := k.TickGet() // re-read every iteration (DESIGN.md Open Q 2)
		head := sc.front(top)
		if head == nil || head.timeoutTick.After(now) {
			k.opLock.Unlock()
			return
		}
		t := head
		sc.remove(t)
		// Cleared unconditionally: t is genuinely unlinked at this point
		// regardless of PERIODIC, and timerStartLocked sets it again on
		// whichever path below re-links t. Leaving it set for periodic
		// timers (as a prior revision did) made ACTIVATED indistinguishable
		// from "relinked by the callback", which is exactly the bug fixed
		// here -- detached() below is the real membership test.
		t.state.resetFlags(fActivated)
		t.state.setFlags(fRunning)
		if k.OnTimerEnter != nil {
			k.OnTimerEnter(t)
		}

		var rearm bool
		var next time.Duration
		if hard {
			func() {
				done := false
				defer func() {
					if !done {
						k.opLock.Unlock() // callback panicked or exited
					}
				}()
				rearm, next = t.f(k, t, t.arg)
				done = true
			}()
		} else {
			atomic.StoreUint32(&k.softBusy, 1)
			k.opLock.Unlock()
			rearm, next = t.f(k, t, t.arg)
			k.opLock.Lock()
			atomic.StoreUint32(&k.softBusy, 0)
		}

		t.state.resetFlags(fRunning)
		if k.OnTimerExit != nil {
			k.OnTimerExit(t)
		}

		// detached(), not Activated(): ACTIVATED is cleared unconditionally
		// above, so the only real signal that the callback (or a
		// concurrent TimerStart) already re-linked t is actual list
		// membership.
		if !t.detached() {
			// Already re-linked; nothing more to do (spec.md §4.2 step 5,
			// "expired list now empty").
		} else if t.IsPeriodic() {
			// spec.md §4.2 step 6: a still-periodic timer restarts from
			// the current tick unconditionally, independent of rearm --
			// rearm/next only let the callback replace the reload interval
			// (kept for later restarts too), they never gate whether the
			// restart happens.
			if rearm && next != Periodic {
				t.initTick = k.TicksRoundUp(next)
			}
			k.timerStartLocked(t)
		} else if rearm {
			if next != Periodic {
				t.initTick = k.TicksRoundUp(next)
			}
			k.timerStartLocked(t)
		}
		k.opLock.Unlock()
	}
}

// NextTimeoutTick returns the hard scope's head timeout_tick, or
// ErrNoTimer if the hard list is currently empty (there is nothing
// pending to report a deadline for).
func (k *Kernel) NextTimeoutTick() (Tick, error) {
	k.opLock.Lock()
	defer k.opLock.Unlock()
	head := k.hard.front(SkipListLevels - 1)
	if head == nil {
		return Tick{}, ErrNoTimer
	}
	return head.timeoutTick, nil
}

// nextSoftTimeoutTick is NextTimeoutTick for the soft scope, used by the
// soft-timer thread loop.
func (k *Kernel) nextSoftTimeoutTick() (Tick, bool) {
	k.opLock.Lock()
	defer k.opLock.Unlock()
	head := k.soft.front(SkipListLevels - 1)
	if head == nil {
		return Tick{}, false
	}
	return head.timeoutTick, true
}

func (k *Kernel) wakeSoftTimer() {
	select {
	case k.softWake <- struct{}{}:
	default:
	}
}

// ---- lifecycle (spec.md §6, §9 "Global state") ----

// SystemTimerInit is the one-time kernel-boot initialization of the two
// scope lists; it is equivalent to calling Init with tickDuration only for
// the timer-facility half of Kernel (tick counter fields are already
// zero-valued and usable).
func (k *Kernel) SystemTimerInit() {
	k.hard.init()
	k.soft.init()
	k.Registry.init()
	if k.softWake == nil {
		k.softWake = make(chan struct{}, 1)
	}
}

// SystemTimerThreadInit starts the dedicated soft-timer goroutine. Per
// spec.md §9 "teardown is not supported", there is normally no need to
// call Shutdown; it exists for tests and embedders that do want a clean
// stop.
func (k *Kernel) SystemTimerThreadInit() {
	k.cancel = make(chan struct{})
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.softTimerThread()
	}()
}

// softTimerThread is the soft-timer dedicated thread loop (spec.md §4.2
// "Soft-timer thread"): query next expiry, suspend if none, otherwise
// delay until it and run soft_check.
func (k *Kernel) softTimerThread() {
	for {
		next, ok := k.nextSoftTimeoutTick()
		if !ok {
			atomic.StoreUint32(&k.softSuspended, 1)
			select {
			case <-k.cancel:
				return
			case <-k.softWake:
			}
			atomic.StoreUint32(&k.softSuspended, 0)
			continue
		}
		now := k.TickGet()
		if next.After(now) {
			delta := next.Sub(now)
			d := k.Duration(delta)
			if d <= 0 {
				d = k.tickDuration
			}
			timer := time.NewTimer(d)
			select {
			case <-k.cancel:
				timer.Stop()
				return
			case <-k.softWake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		k.SoftTimerCheck()
	}
}

// Start launches the internal tick source (ticker.go) in addition to the
// soft-timer thread, for standalone use without an external ISR driving
// TickIncrease.
func (k *Kernel) Start() {
	if k.started {
		return
	}
	k.started = true
	if k.cancel == nil {
		k.cancel = make(chan struct{})
	}
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.softTimerThread()
	}()
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.tickerLoop()
	}()
}

// Shutdown signals every Kernel goroutine to stop and waits for them.
func (k *Kernel) Shutdown() {
	if k.cancel != nil {
		close(k.cancel)
	}
	k.wg.Wait()
}
