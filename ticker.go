// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import (
	"time"

	"github.com/intuitivelabs/timestamp"
)

// tickSource holds the drift-correction state for the internal tick
// source, the fields wtimer keeps directly on WTimer (refTS/refTicks/
// lastTickT/badTime); kept as its own type here since Kernel already has
// a sizeable field list.
type tickSource struct {
	refTS     timestamp.TS
	lastTickT timestamp.TS
	refTick   Tick
	badTime   int
}

// tick reports how many whole ticks have elapsed and advances the
// internal clock state, the Go analogue of wtimer's ticker(). Unlike
// wtimer's version (which jumps the wheel generation forward by N ticks
// at once via advanceTimeTo), this calls TickIncrease once per elapsed
// tick, since tick_increase's side effects (scheduler quantum, hard-timer
// check) must happen once per real tick, not once per polling interval.
func (k *Kernel) tick() uint64 {
	now := timestamp.Now()
	if now.Before(k.tsrc.lastTickT) {
		k.tsrc.badTime++
		if k.tsrc.badTime > 10 {
			if ERRon() {
				ERR("tick: recovering after time going backward %d times"+
					" with %s\n", k.tsrc.badTime, k.tsrc.lastTickT.Sub(now))
			}
			k.tsrc.lastTickT = now
			k.tsrc.refTS = now
			k.tsrc.refTick = k.TickGet()
		} else if DBGon() {
			DBG("tick: time going backward with %s (%d times)\n",
				k.tsrc.lastTickT.Sub(now), k.tsrc.badTime)
		}
		return 0
	}
	k.tsrc.badTime = 0

	if now.Sub(k.tsrc.refTS)/k.tickDuration > MaxTicksDiff-2 {
		if DBGon() {
			DBG("tick: ref value overflowing after %s -> re-adjusting\n",
				now.Sub(k.tsrc.refTS))
		}
		diff, _ := k.Ticks(now.Sub(k.tsrc.lastTickT))
		k.tsrc.refTS = k.tsrc.lastTickT
		k.tsrc.refTick = k.TickGet().Sub(diff)
	}

	diff := now.Sub(k.tsrc.lastTickT)
	if diff < k.tickDuration {
		return 0
	}
	elapsed, rest := k.Ticks(diff)
	k.tsrc.lastTickT = now.Add(-rest)
	for i := uint64(0); i < elapsed.Val(); i++ {
		k.TickIncrease()
	}
	return elapsed.Val()
}

// tickerLoop drives tick() off a time.Ticker until Shutdown is called.
func (k *Kernel) tickerLoop() {
	k.tsrc = tickSource{}
	k.tsrc.lastTickT = timestamp.Now()
	k.tsrc.refTS = k.tsrc.lastTickT
	k.tsrc.refTick = k.TickGet()

	if DBGon() {
		DBG("starting tick source with %s at %s\n", k.tickDuration, time.Now())
	}
	ticker := time.NewTicker(k.tickDuration)
	defer ticker.Stop()
	for {
		select {
		case <-k.cancel:
			return
		case _, ok := <-ticker.C:
			if !ok {
				return
			}
			k.tick()
		}
	}
}
