package vmem

// Heap is a bump allocator: it never reclaims address space, it only
// tracks each live allocation's size so heap_realloc/heap_size/heap_free
// can answer without a real allocator underneath. Grounded on the
// teacher's arena.go bump-pointer arena (base/current/size bookkeeping),
// generalized here to track per-allocation size rather than a single
// scope-wide cursor.
type Heap struct {
	base    uint32
	size    uint32
	cursor  uint32
	allocs  map[uint32]uint32 // ptr -> size
}

func newHeap(base, size uint32) *Heap {
	return &Heap{base: base, size: size, cursor: base, allocs: make(map[uint32]uint32)}
}

func align(v, a uint32) uint32 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}

// Alloc bumps the cursor to the next aligned address able to hold size
// bytes and records (ptr, size) for later heap_size/heap_realloc/heap_free.
func (h *Heap) Alloc(size, alignment uint32) uint32 {
	if alignment == 0 {
		alignment = 8
	}
	if size == 0 {
		size = 1
	}
	ptr := align(h.cursor, alignment)
	h.cursor = ptr + size
	h.allocs[ptr] = size
	return ptr
}

// Size returns the recorded size of a live allocation.
func (h *Heap) Size(ptr uint32) (uint32, bool) {
	sz, ok := h.allocs[ptr]
	return sz, ok
}

// Realloc grows or shrinks an allocation by bumping a fresh block; the
// caller (host function) is responsible for copying the old contents.
func (h *Heap) Realloc(ptr, newSize uint32) uint32 {
	delete(h.allocs, ptr)
	return h.Alloc(newSize, 8)
}

// Free only removes the bookkeeping entry; memory is never recycled,
// per spec.md §3 "Heap".
func (h *Heap) Free(ptr uint32) {
	delete(h.allocs, ptr)
}

// Contains reports whether ptr was returned by Alloc and is still live.
func (h *Heap) Contains(ptr uint32) bool {
	_, ok := h.allocs[ptr]
	return ok
}

// Allocs returns a defensive copy of every live allocation's (ptr -> size),
// used by the COM runtime's heap-scan vtable recovery (internal/com/scan.go).
func (h *Heap) Allocs() map[uint32]uint32 {
	out := make(map[uint32]uint32, len(h.allocs))
	for ptr, size := range h.allocs {
		out[ptr] = size
	}
	return out
}

// Range reports the heap's [start, end) address span.
func (h *Heap) Range() (start, end uint32) {
	return h.base, h.base + h.size
}
