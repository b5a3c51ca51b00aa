// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rtcore

import "sync"

// blockHeader is the Go analogue of rt_small_mem_item: every heap block
// (used or free) has one, keyed by its byte offset into Heap.arena.
// pool_ptr's tagged-pointer packing (owning heap in the high bits, used
// flag in the low bit) is kept apart as owner/used fields rather than a
// single machine word, per spec.md §9's "NonNull<Heap> + separate used
// bool" allowance: the chain walk only ever depends on next/prev offsets,
// never on pool_ptr's bit layout, so nothing is lost by splitting it.
type blockHeader struct {
	owner *Heap
	used  bool
	next  uint32 // offset of the following block (self, for heap_end)
	prev  uint32 // offset of the preceding block (self for the first block; heap_end starts as self, see Check)
}

// Block is the handle Alloc/Realloc hand back in place of a raw payload
// pointer: Go has no safe way to recover a block's header from an
// arbitrary []byte later handed to Free, so the header offset travels
// alongside the payload slice instead of being derived from it by
// pointer arithmetic the way rt_smem_free does (mem = rmem - HEADER_SIZE).
type Block struct {
	h    *Heap
	off  uint32
	Data []byte
}

// smallHeapAlgorithm is the algorithm name spec.md §4.3 registers every
// Heap under: "Register as a kernel object with algorithm name \"small\"."
const smallHeapAlgorithm = "small"

// Heap is a single contiguous small-block allocator: first-fit from a
// cached lowest-free offset, split on over-sized fits, forward-and-
// backward coalescing on free. Grounded on original_source/src/mem.c's
// rt_small_mem (rt_smem_init/alloc/realloc/free/plug_holes).
type Heap struct {
	mu    sync.Mutex
	name  string
	arena []byte

	// Registry, if non-nil, is the kernel object table Init registers
	// this heap into under its name (spec.md §4.3), the same Registry a
	// Kernel exposes for TimerInit. Left nil by NewHeap/Init so a Heap
	// stays usable standalone, e.g. in the heap_test.go unit tests that
	// build one without a Kernel at hand; callers sharing a Kernel's
	// object namespace assign k.Registry before calling Init.
	Registry *Registry

	headers map[uint32]*blockHeader
	heapEnd uint32
	lfree   uint32

	total uint64
	used  uint64
	max   uint64
}

// NewHeap allocates and initializes a Heap over arena, the Go analogue
// of rt_smem_init. arena is used in place (no copy); its length is
// rounded down to AlignSize and must hold at least two block headers
// plus MinSizeAligned of usable payload.
func NewHeap(name string, arena []byte) (*Heap, error) {
	h := &Heap{}
	if err := h.Init(name, arena); err != nil {
		return nil, err
	}
	return h, nil
}

// NewHeapIn is NewHeap, additionally registering the heap by name in reg
// (spec.md §4.3), the way TimerInit registers into a Kernel's Registry.
// Pass k.Registry to share a kernel's object namespace; reg may be nil,
// equivalent to plain NewHeap.
func NewHeapIn(reg *Registry, name string, arena []byte) (*Heap, error) {
	h := &Heap{Registry: reg}
	if err := h.Init(name, arena); err != nil {
		return nil, err
	}
	return h, nil
}

// Init (re)initializes h over arena. See NewHeap.
func (h *Heap) Init(name string, arena []byte) error {
	alignedLen := alignDown(len(arena), AlignSize)
	if alignedLen <= 2*HeaderSize || alignedLen-2*HeaderSize < MinSizeAligned {
		return ErrInvalidParameters
	}
	memSize := uint32(alignedLen - 2*HeaderSize)
	endOff := memSize + HeaderSize

	h.mu.Lock()
	defer h.mu.Unlock()
	h.name = name
	h.arena = arena[:alignedLen]
	h.headers = make(map[uint32]*blockHeader, 8)
	h.headers[0] = &blockHeader{owner: h, used: false, next: endOff, prev: 0}
	h.headers[endOff] = &blockHeader{owner: h, used: true, next: endOff, prev: endOff}
	h.heapEnd = endOff
	h.lfree = 0
	h.total = uint64(memSize)
	h.used = 0
	h.max = 0
	if h.Registry != nil {
		h.Registry.Register(name, h)
	}
	return nil
}

// Detach releases h's backing arena and header table, and removes it
// from its Registry if it was registered. Any Block handles still
// outstanding become invalid; spec.md assigns no defined behavior to
// using them afterward.
func (h *Heap) Detach() {
	h.mu.Lock()
	h.arena = nil
	h.headers = nil
	reg, name := h.Registry, h.name
	h.mu.Unlock()
	if reg != nil {
		reg.Detach(name)
	}
}

// Name returns the heap's registered name.
func (h *Heap) Name() string { return h.name }

// Algorithm returns the allocator algorithm name this heap is registered
// under (spec.md §4.3: always "small" -- this module implements only the
// first-fit small-block algorithm, never rt_mem's slab/large variants).
func (h *Heap) Algorithm() string { return smallHeapAlgorithm }

// Used returns the current used byte count (headers + payload).
func (h *Heap) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Max returns the high-water used byte count.
func (h *Heap) Max() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max
}

// Total returns the total payload capacity of the heap (excluding
// headers), fixed at Init time.
func (h *Heap) Total() uint64 {
	return h.total
}

func alignUp(n, align int) int   { return (n + align - 1) / align * align }
func alignDown(n, align int) int { return n / align * align }

// capacity returns the usable payload size of the block at off, i.e.
// everything between its own header and the next block's header.
func (h *Heap) capacity(off uint32) int {
	return int(h.headers[off].next-off) - HeaderSize
}

// Alloc returns a Block whose Data is at least size bytes, first-fit
// from h.lfree, splitting the found block when the remainder can still
// hold a header plus MinSizeAligned (spec.md §4.3 step 4).
func (h *Heap) Alloc(size int) (*Block, error) {
	if size <= 0 {
		return nil, ErrInvalidParameters
	}
	size = alignUp(size, AlignSize)
	if size < MinSizeAligned {
		size = MinSizeAligned
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.headers == nil {
		return nil, ErrInvalidParameters
	}
	if uint64(size) > h.total {
		return nil, ErrOutOfMemory
	}

	for off := h.lfree; off != h.heapEnd; off = h.headers[off].next {
		hdr := h.headers[off]
		avail := h.capacity(off)
		if hdr.used || avail < size {
			continue
		}

		if avail >= size+HeaderSize+MinSizeAligned {
			newOff := off + uint32(HeaderSize+size)
			oldNext := hdr.next
			h.headers[newOff] = &blockHeader{owner: h, used: false, next: oldNext, prev: off}
			if oldNext != h.heapEnd {
				h.headers[oldNext].prev = newOff
			}
			hdr.next = newOff
		}

		hdr.used = true
		h.used += uint64(hdr.next - off)
		if h.used > h.max {
			h.max = h.used
		}

		if off == h.lfree {
			for h.headers[h.lfree].used && h.lfree != h.heapEnd {
				h.lfree = h.headers[h.lfree].next
			}
		}

		payload := h.arena[off+uint32(HeaderSize) : hdr.next]
		return &Block{h: h, off: off, Data: payload}, nil
	}
	return nil, ErrOutOfMemory
}

// Free releases b back to h, coalescing with its free neighbors
// (spec.md §4.3 "Free"). Freeing a nil Block is a no-op.
func (h *Heap) Free(b *Block) error {
	if b == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeLocked(b)
}

func (h *Heap) freeLocked(b *Block) error {
	hdr, ok := h.headers[b.off]
	if !ok || !hdr.used {
		return ErrInvalidParameters
	}
	hdr.used = false
	if b.off < h.lfree {
		h.lfree = b.off
	}
	h.used -= uint64(hdr.next - b.off)
	h.plugHoles(b.off)
	b.Data = nil
	return nil
}

// plugHoles merges the block at off with its free forward and backward
// neighbors, a direct transliteration of mem.c's plug_holes.
func (h *Heap) plugHoles(off uint32) {
	hdr := h.headers[off]

	nOff := hdr.next
	if nOff != off && nOff != h.heapEnd {
		if nHdr := h.headers[nOff]; !nHdr.used {
			if h.lfree == nOff {
				h.lfree = off
			}
			hdr.next = nHdr.next
			h.headers[nHdr.next].prev = off
			delete(h.headers, nOff)
		}
	}

	pOff := hdr.prev
	if pOff != off {
		if pHdr := h.headers[pOff]; !pHdr.used {
			if h.lfree == off {
				h.lfree = pOff
			}
			pHdr.next = hdr.next
			h.headers[hdr.next].prev = pOff
			delete(h.headers, off)
		}
	}
}

// Realloc resizes b to newSize, shrinking in place (splitting off a
// free tail) when the block is large enough, or allocating fresh and
// copying otherwise (spec.md §4.3 "Realloc"). newSize == 0 frees b and
// returns (nil, nil); b == nil behaves like Alloc(newSize).
func (h *Heap) Realloc(b *Block, newSize int) (*Block, error) {
	if newSize == 0 {
		return nil, h.Free(b)
	}
	if b == nil {
		return h.Alloc(newSize)
	}

	newSize = alignUp(newSize, AlignSize)
	if newSize < MinSizeAligned {
		newSize = MinSizeAligned
	}

	h.mu.Lock()
	hdr, ok := h.headers[b.off]
	if !ok || !hdr.used {
		h.mu.Unlock()
		return nil, ErrInvalidParameters
	}
	curCap := h.capacity(b.off)
	if newSize == curCap {
		h.mu.Unlock()
		return b, nil
	}

	if newSize+HeaderSize+MinSize < curCap {
		newOff := b.off + uint32(HeaderSize+newSize)
		oldNext := hdr.next
		h.headers[newOff] = &blockHeader{owner: h, used: false, next: oldNext, prev: b.off}
		if oldNext != h.heapEnd {
			h.headers[oldNext].prev = newOff
		}
		h.used -= uint64(oldNext - newOff)
		hdr.next = newOff
		if newOff < h.lfree {
			h.lfree = newOff
		}
		h.plugHoles(newOff)
		b.Data = h.arena[b.off+uint32(HeaderSize) : hdr.next]
		h.mu.Unlock()
		return b, nil
	}
	h.mu.Unlock()

	nb, err := h.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	n := curCap
	if newSize < n {
		n = newSize
	}
	copy(nb.Data, b.Data[:n])
	h.Free(b)
	return nb, nil
}

// BlockInfo describes one block in a Walk callback.
type BlockInfo struct {
	Offset   uint32
	Capacity int
	Used     bool
}

// Walk calls f for every block in offset order, including the heap_end
// sentinel, stopping early if f returns false.
func (h *Heap) Walk(f func(BlockInfo) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	off := uint32(0)
	for {
		hdr := h.headers[off]
		info := BlockInfo{Offset: off, Capacity: h.capacity(off), Used: hdr.used}
		if !f(info) {
			return
		}
		if off == h.heapEnd {
			return
		}
		off = hdr.next
	}
}

// Check verifies the invariants spec.md §7 binds the heap to: offsets
// within range, owner tags intact, prev/next agreement, no two adjacent
// free blocks, and lfree addressing the lowest free block. It returns
// the first violation found, or nil.
func (h *Heap) Check() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	off := uint32(0)
	lowestFree := h.heapEnd
	prevFree := false
	for {
		hdr, ok := h.headers[off]
		if !ok || hdr.owner != h {
			return ErrInvalidParameters
		}
		if off != h.heapEnd {
			if hdr.next > h.heapEnd || hdr.next <= off {
				return ErrInvalidParameters
			}
			nHdr := h.headers[hdr.next]
			if hdr.next != h.heapEnd && nHdr.prev != off {
				return ErrInvalidParameters
			}
			if !hdr.used {
				if prevFree {
					return ErrInvalidParameters
				}
				if lowestFree == h.heapEnd {
					lowestFree = off
				}
			}
			prevFree = !hdr.used
		} else {
			// heap_end.prev tracks whichever block last merged into its
			// predecessor slot by forward coalescing (plugHoles writes it
			// unconditionally, same as mem.c); only next==self and used
			// are true invariants here.
			if hdr.next != h.heapEnd || !hdr.used {
				return ErrInvalidParameters
			}
			break
		}
		off = hdr.next
	}
	if lowestFree != h.lfree {
		return ErrInvalidParameters
	}
	if h.max < h.used {
		return ErrInvalidParameters
	}
	return nil
}
