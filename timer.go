// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import (
	"time"
)

// Periodic is a sentinel TimerFunc return value meaning "re-arm with the
// timer's current init_tick", mirroring wtimer.Periodic.
const Periodic time.Duration = time.Duration(^int64(0))

// TimerFunc is the callback invoked on expiry. It receives the Kernel the
// timer fired on, the expiring Timer itself and the opaque arg it was
// created with, and returns whether it should be re-armed plus (when
// rearm is true) the interval to re-arm with -- Periodic re-uses the
// timer's own configured reload; any other interval replaces the timer's
// reload (init_tick) from then on.
//
// Soft-timer callbacks run with the Kernel lock released: TimerStop,
// TimerDelete and TimerStart on the same timer are safe there, and a
// TimerStart from the callback takes the place of the automatic re-arm
// (see SoftTimerCheck). Hard-timer callbacks run with the Kernel lock held
// (see TimerCheck).
type TimerFunc func(k *Kernel, t *Timer, arg interface{}) (rearm bool, next time.Duration)

// Timer is the intrusive timer object of spec.md §3. It is never copied
// once it has been passed to TimerInit/TimerStart: row holds live
// list-node pointers keyed on the Timer's own address.
type Timer struct {
	name  string
	state timerState

	row [SkipListLevels]node // one slot per skip-list level

	initTick    Tick // reload interval
	timeoutTick Tick // absolute expiry, valid only while fActivated

	f   TimerFunc
	arg interface{}

	k *Kernel
}

// Name returns the timer's registration name.
func (t *Timer) Name() string { return t.name }

// Activated reports whether the timer is currently linked into a scope's
// skip list.
func (t *Timer) Activated() bool { return t.state.has(fActivated) }

// IsPeriodic reports whether the timer re-arms itself on expiry.
func (t *Timer) IsPeriodic() bool { return t.state.has(fPeriodic) }

// SoftTimer reports whether the timer lives in the soft scope.
func (t *Timer) SoftTimer() bool { return t.state.has(fSoftTimer) }

// detached reports whether the timer is unlinked from every skip-list
// level, using the canonical level SkipListLevels-1 as the representative:
// every linked timer is present there, and membership at any lower level
// implies membership at every level above it (see scope.insert).
func (t *Timer) detached() bool {
	return t.row[SkipListLevels-1].next == t
}

// TimeoutTick returns the absolute expiry tick, valid only while the timer
// is Activated().
func (t *Timer) TimeoutTick() Tick { return t.timeoutTick }

// forceDetached resets every row slot to a self-loop (the Go analogue of
// wtimer's timerLst.forceEmpty, applied per-level to a single entry rather
// than to a list head).
func (t *Timer) forceDetached() {
	for i := range t.row {
		t.row[i].next = t
		t.row[i].prev = t
	}
}
