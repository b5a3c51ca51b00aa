// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import (
	"fmt"
	"sync/atomic"
)

// Timer flag bits (spec.md §3 "Flag bits"), kept in a single atomically
// accessed word the way wtimer's tInfo keeps wheel position + flags in one
// uint32 CAS-updated word. There is no wheel position to carry here (the
// skip list determines membership per level from each row slot's own
// next/prev, see skiplist.go), so timerState is flags-only.
const (
	fActivated uint8 = 1 << iota // linked in a scope's skip list
	fPeriodic                    // re-arms itself on expiry
	fSoftTimer                   // lives in the soft scope, not the hard one
	fRunning                     // callback currently executing
	fDeleting                    // not set by any operation (TimerDelete does not use it)
)

// timerState is the atomically-accessed flags word of a Timer, modeled on
// wtimer's tInfo.
type timerState struct {
	v uint32
}

func (s *timerState) setFlags(mask uint8) {
	m := uint32(mask)
	for {
		crt := atomic.LoadUint32(&s.v)
		if atomic.CompareAndSwapUint32(&s.v, crt, crt|m) {
			return
		}
	}
}

func (s *timerState) resetFlags(mask uint8) {
	m := uint32(mask)
	for {
		crt := atomic.LoadUint32(&s.v)
		if atomic.CompareAndSwapUint32(&s.v, crt, crt & ^m) {
			return
		}
	}
}

// chgFlags resets the bits in resetMask and sets the bits in setMask,
// atomically.
func (s *timerState) chgFlags(setMask, resetMask uint8) {
	set := uint32(setMask)
	reset := uint32(resetMask)
	for {
		crt := atomic.LoadUint32(&s.v)
		if atomic.CompareAndSwapUint32(&s.v, crt, (crt & ^reset)|set) {
			return
		}
	}
}

func (s *timerState) flags() uint8 {
	return uint8(atomic.LoadUint32(&s.v))
}

func (s *timerState) has(mask uint8) bool {
	return s.flags()&mask == mask
}

func (s timerState) String() string {
	return fmt.Sprintf("%05b", s.flags())
}
