// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import (
	"sync/atomic"
)

// node is one level's intrusive doubly-linked list slot, the skip-list
// generalization of wtimer's single-level TimerLnk next/prev pair.
type node struct {
	next, prev *Timer
}

// scope is one of the two process-wide timer lists (hard, soft): an
// L-level skip list ordered by timeoutTick under half-range order,
// grounded on original_source/src/timer.c's rt_timer_start/rt_timer_check
// search and on wtimer's timerLst circular-sentinel idiom, generalized
// from 1 level to SkipListLevels.
type scope struct {
	heads   [SkipListLevels]Timer // heads[i].row[i] is level i's sentinel
	counter uint32                // insertion-order counter, spec.md §4.2
}

func (s *scope) init() {
	for i := range s.heads {
		s.heads[i].forceDetached()
	}
}

func (s *scope) isEmpty(level int) bool {
	return s.heads[level].row[level].next == &s.heads[level]
}

// front returns the first (soonest-expiring) timer at level, or nil.
func (s *scope) front(level int) *Timer {
	if s.isEmpty(level) {
		return nil
	}
	return s.heads[level].row[level].next
}

// spliceAfter links t immediately after pred at the given level. pred may
// be a real Timer or the scope's own sentinel for that level.
func (s *scope) spliceAfter(pred *Timer, t *Timer, level int) {
	nxt := pred.row[level].next
	t.row[level].prev = pred
	t.row[level].next = nxt
	nxt.row[level].prev = t
	pred.row[level].next = t
}

// unlink removes t from level if it is actually linked there, a no-op
// otherwise (spec.md §4.2 "Removal": empty list-node removal is a no-op").
func (s *scope) unlink(t *Timer, level int) {
	if t.row[level].next == t {
		return // not linked at this level
	}
	t.row[level].prev.row[level].next = t.row[level].next
	t.row[level].next.row[level].prev = t.row[level].prev
	t.row[level].next = t
	t.row[level].prev = t
}

// remove unlinks t from every level it occupies.
func (s *scope) remove(t *Timer) {
	for level := 0; level < SkipListLevels; level++ {
		s.unlink(t, level)
	}
}

// insert links t into the skip list ordered by t.timeoutTick, selecting
// extra levels pseudo-randomly from the scope's insertion counter. t must
// already be fully detached and have timeoutTick set. This is a direct
// transliteration of rt_timer_start's row_head[] walk: search bottom-up
// (level 0, the sparsest express lane, to SkipListLevels-1, the canonical
// level every timer occupies), reusing the predecessor found at level i as
// the starting point for level i+1 (valid because membership is nested:
// anything present at level i is also present at every level > i).
func (s *scope) insert(t *Timer) {
	var preds [SkipListLevels]*Timer
	var pred *Timer // nil means "start the walk from this level's own head"
	for level := 0; level < SkipListLevels; level++ {
		head := &s.heads[level]
		cur := head
		if pred != nil {
			cur = pred
		}
		for {
			nxt := cur.row[level].next
			if nxt == head {
				break
			}
			// Equal or preceding expiries are skipped over (stable FIFO
			// among same-expiry timers, spec.md §4.2); only a strictly
			// later successor stops the walk.
			if nxt.timeoutTick.LE(t.timeoutTick) {
				cur = nxt
				continue
			}
			break
		}
		preds[level] = cur
		if cur == head {
			pred = nil
		} else {
			pred = cur
		}
	}

	// Level SkipListLevels-1 is canonical: every activated timer lives
	// there unconditionally.
	const top = SkipListLevels - 1
	s.spliceAfter(preds[top], t, top)

	n := atomic.AddUint32(&s.counter, 1)
	tst := n
	for lvl := top - 1; lvl >= 0; lvl-- {
		if tst&SkipListMask != 0 {
			break
		}
		s.spliceAfter(preds[lvl], t, lvl)
		tst >>= (SkipListMask + 1) >> 1
	}
}
