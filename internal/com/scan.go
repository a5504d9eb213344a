package com

// recoverDispatchFromHeap is the spec.md §4.5 step 9 fallback for a
// factory that reports success but leaves its out-pointer null: it finds
// the object's vtable through findVtableFromInternalCreate, then looks for
// a pointer to that vtable, first at the start of every live heap
// allocation and then at every byte offset of the heap range. Only the
// heap is scanned; PE-writable sections are not searched. Grounded on
// original_source/.../com/runtime/scan.rs.
func recoverDispatchFromHeap(h Host, internalCreate uint32) (uint32, bool) {
	vtable, ok := findVtableFromInternalCreate(h, internalCreate)
	if !ok {
		return 0, false
	}
	h.TraceCOMf("recover IDispatch: vtable=0x%08X", vtable)

	for ptr, size := range h.HeapAllocs() {
		if size < 4 {
			continue
		}
		if v, err := h.ReadU32(ptr); err == nil && v == vtable {
			return ptr, true
		}
	}

	start, end := h.HeapRange()
	for addr := start; addr+4 <= end; addr++ {
		v, err := h.ReadU32(addr)
		if err != nil {
			break
		}
		if v == vtable {
			return addr, true
		}
	}
	return 0, false
}

// findVtableFromInternalCreate walks the factory's internal creation stub,
// adding the target of every JMP rel32/rel8 opcode byte found in its first
// 64 bytes as a further candidate (common for an incrementally linked
// thunk), and looks for a `mov [mem], imm32` (opcode 0xC7 /0) whose
// immediate is an address inside the VM whose own first dword falls within
// the code section — the shape of "this stores a vtable pointer into a
// freshly allocated object".
func findVtableFromInternalCreate(h Host, internalCreate uint32) (uint32, bool) {
	if internalCreate == 0 {
		return 0, false
	}
	codeStart, codeEnd := h.CodeRange()

	candidates := []uint32{internalCreate}
	var stub [64]byte
	for i := range stub {
		b, err := h.ReadU8(internalCreate + uint32(i))
		if err != nil {
			break
		}
		stub[i] = b
	}
	for i := 0; i+4 < len(stub); i++ {
		switch stub[i] {
		case 0xE9:
			rel := int32(uint32(stub[i+1]) | uint32(stub[i+2])<<8 | uint32(stub[i+3])<<16 | uint32(stub[i+4])<<24)
			target := internalCreate + uint32(i+5) + uint32(rel)
			candidates = append(candidates, target)
		case 0xEB:
			rel := int32(int8(stub[i+1]))
			target := internalCreate + uint32(i+2) + uint32(rel)
			candidates = append(candidates, target)
		}
	}
	h.TraceCOMf("internal_create scan targets: %v", candidates)

	for _, target := range candidates {
		var window [256]byte
		ok := true
		for i := range window {
			b, err := h.ReadU8(target + uint32(i))
			if err != nil {
				ok = false
				break
			}
			window[i] = b
		}
		if !ok {
			continue
		}
		for i := 0; i+5 < len(window); i++ {
			if window[i] != 0xC7 {
				continue
			}
			modrm := window[i+1]
			if modrm&0xC0 != 0x00 {
				continue
			}
			if (modrm>>3)&0x7 != 0 {
				continue
			}
			imm := uint32(window[i+2]) | uint32(window[i+3])<<8 | uint32(window[i+4])<<16 | uint32(window[i+5])<<24
			if !h.ContainsAddr(imm) {
				continue
			}
			first, err := h.ReadU32(imm)
			if err != nil || first < codeStart || first >= codeEnd {
				continue
			}
			h.TraceCOMf("internal_create vtable candidate 0x%08X first=0x%08X", imm, first)
			return imm, true
		}
	}
	return 0, false
}
