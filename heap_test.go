// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import "testing"

func newTestHeap(t *testing.T, size int) *Heap {
	t.Helper()
	h, err := NewHeap("test", make([]byte, size))
	if err != nil {
		t.Fatalf("NewHeap(%d) = %v\n", size, err)
	}
	return h
}

func mustAlloc(t *testing.T, h *Heap, size int) *Block {
	t.Helper()
	b, err := h.Alloc(size)
	if err != nil {
		t.Fatalf("Alloc(%d) = %v\n", size, err)
	}
	return b
}

// TestHeapSplitCoalesce is S1: three 100-byte blocks carved out of a
// 1024-byte heap, freed in a-then-c-then-b order, must coalesce back into
// a single free block plus the heap_end sentinel, used == 0.
func TestHeapSplitCoalesce(t *testing.T) {
	h := newTestHeap(t, 1024)
	a := mustAlloc(t, h, 100)
	b := mustAlloc(t, h, 100)
	c := mustAlloc(t, h, 100)

	if err := h.Check(); err != nil {
		t.Fatalf("Check after allocs: %v\n", err)
	}

	if err := h.Free(a); err != nil {
		t.Fatalf("Free(a) = %v\n", err)
	}
	if err := h.Free(c); err != nil {
		t.Fatalf("Free(c) = %v\n", err)
	}
	if err := h.Free(b); err != nil {
		t.Fatalf("Free(b) = %v\n", err)
	}

	if h.Used() != 0 {
		t.Fatalf("used = %d after freeing everything, want 0\n", h.Used())
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after frees: %v\n", err)
	}

	blocks := 0
	h.Walk(func(info BlockInfo) bool {
		blocks++
		return true
	})
	if blocks != 2 {
		t.Fatalf("walked %d blocks after full coalesce, want 2 (one free + heap_end)\n", blocks)
	}
}

// TestHeapFirstFitPrefersLow is S2: with only b freed from the S1 layout,
// alloc(50) must land in b's hole, between a and c.
func TestHeapFirstFitPrefersLow(t *testing.T) {
	h := newTestHeap(t, 1024)
	a := mustAlloc(t, h, 100)
	b := mustAlloc(t, h, 100)
	c := mustAlloc(t, h, 100)

	if err := h.Free(b); err != nil {
		t.Fatalf("Free(b) = %v\n", err)
	}

	d := mustAlloc(t, h, 50)

	aOff := a.off
	cOff := c.off
	dOff := d.off
	if !(dOff > aOff && dOff < cOff) {
		t.Fatalf("alloc(50) after freeing b landed at offset %d, want strictly between a (%d) and c (%d)\n",
			dOff, aOff, cOff)
	}
}

// TestHeapReallocShrinkInPlace is S3: shrinking an allocation in place must
// keep the same address and leave a free tail at least
// 200 - 40 - HeaderSize bytes long.
func TestHeapReallocShrinkInPlace(t *testing.T) {
	h := newTestHeap(t, 1024)
	p := mustAlloc(t, h, 200)
	pOff := p.off

	q, err := h.Realloc(p, 40)
	if err != nil {
		t.Fatalf("Realloc(p, 40) = %v\n", err)
	}
	if q.off != pOff {
		t.Fatalf("Realloc shrink moved the block: %d -> %d\n", pOff, q.off)
	}

	minTail := 200 - 40 - HeaderSize
	found := false
	h.Walk(func(info BlockInfo) bool {
		if info.Offset > pOff && !info.Used && info.Capacity >= minTail {
			found = true
			return false
		}
		return true
	})
	if !found {
		t.Fatalf("no free tail of at least %d bytes found after shrink\n", minTail)
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after shrink: %v\n", err)
	}
}

// TestHeapRoundTrip checks that a single alloc/free round trip returns the
// heap to its pre-allocation used level (spec.md §7 "Round-trip").
func TestHeapRoundTrip(t *testing.T) {
	h := newTestHeap(t, 512)
	before := h.Used()
	b := mustAlloc(t, h, 64)
	if err := h.Free(b); err != nil {
		t.Fatalf("Free = %v\n", err)
	}
	if h.Used() != before {
		t.Fatalf("used = %d after round trip, want %d\n", h.Used(), before)
	}
}

// TestHeapNoAdjacentFreeBlocks exercises a wider alloc/free mix and checks
// Check() (no two adjacent free blocks, lfree correct, max >= used) after
// every free, then that used is back to 0.
func TestHeapNoAdjacentFreeBlocks(t *testing.T) {
	h := newTestHeap(t, 4096)
	var blocks []*Block
	for i := 0; i < 12; i++ {
		blocks = append(blocks, mustAlloc(t, h, 32+8*i))
	}
	// Free in an order that forces both forward- and backward-coalescing.
	order := []int{1, 3, 5, 7, 9, 11, 0, 2, 4, 6, 8, 10}
	for _, i := range order {
		if err := h.Free(blocks[i]); err != nil {
			t.Fatalf("Free(blocks[%d]) = %v\n", i, err)
		}
		if err := h.Check(); err != nil {
			t.Fatalf("Check after freeing index %d: %v\n", i, err)
		}
	}
	if h.Used() != 0 {
		t.Fatalf("used = %d after freeing everything, want 0\n", h.Used())
	}
	if h.Max() < 12*8 {
		t.Fatalf("max = %d, expected to have tracked the high-water mark\n", h.Max())
	}
}

// TestHeapOutOfMemory checks that an oversized request fails cleanly
// without corrupting the heap.
func TestHeapOutOfMemory(t *testing.T) {
	h := newTestHeap(t, 256)
	if _, err := h.Alloc(10000); err != ErrOutOfMemory {
		t.Fatalf("Alloc(10000) on a 256-byte heap = %v, want ErrOutOfMemory\n", err)
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after failed alloc: %v\n", err)
	}
}
