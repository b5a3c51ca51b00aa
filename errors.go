// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import (
	"errors"
)

// Programmer errors (spec.md §7 "InvalidArgument"): in debug builds these
// are asserted via BUG/PANIC at the call site rather than returned; the
// sentinels still exist so a release build can report them with errors.Is
// instead of asserting.
var ErrInvalidTimer = errors.New("invalid timer handler")
var ErrInvalidParameters = errors.New("invalid parameters")
var ErrTicksTooHigh = errors.New("reload interval >= half the tick range")

// ErrDurationTooSmall is returned (never asserted) by Kernel.Init when
// given a tick duration under time.Microsecond -- a startup config
// mistake, not an in-band programmer error the debug build should panic
// on.
var ErrDurationTooSmall = errors.New("duration smaller than one tick")

// ErrNotActive is returned (never asserted) by TimerStop on a timer that
// is not currently ACTIVATED.
var ErrNotActive = errors.New("called on an inactive timer")

// ErrAlreadyRemovedTimer is not returned by any operation of this
// package; timer removal races are handled under Kernel.opLock instead.
var ErrAlreadyRemovedTimer = errors.New("called on an already removed timer")

// ErrOutOfMemory is returned by Heap.Alloc/Realloc when the request cannot
// be satisfied; callers see it as the nil-return sentinel, not a panic.
var ErrOutOfMemory = errors.New("out of memory")

// ErrNoTimer is returned by NextTimeoutTick when the hard timer list is
// empty, i.e. there is no head timeout to report.
var ErrNoTimer = errors.New("no timer in list")
