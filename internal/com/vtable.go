package com

// vtableFn reads the function pointer at slot index of the vtable that
// objPtr's first field points to: COM convention places QueryInterface,
// AddRef, Release first, spec.md GLOSSARY "Vtable".
func vtableFn(h Host, objPtr uint32, index uint32) (uint32, error) {
	vtable, err := h.ReadU32(objPtr)
	if err != nil {
		return 0, err
	}
	return h.ReadU32(vtable + index*4)
}

// detectCreateInstanceThiscall is the byte-pattern heuristic
// original_source/.../instance.rs uses specifically for
// IClassFactory::CreateInstance and the ActiveX site vtable entries: it
// looks for an early stdcall-style stack read (mov reg,[esp+4] or
// mov reg,[ebp+8]) to rule out thiscall, then for a bare `mov reg,ecx`
// (modrm 0xF1/F9/D9/C1/C9, i.e. mod=11,reg=*,rm=ECX) to confirm it. This is
// a narrower, call-site-specific heuristic than
// internal/hostcall.DetectConvention's general import-trampoline scan, kept
// separate because CreateInstance/SetClientSite/DoVerb targets are guest
// code this runtime never resolved through the IAT.
func detectCreateInstanceThiscall(h Host, entry uint32) bool {
	var bytes [96]byte
	for i := range bytes {
		b, err := h.ReadU8(entry + uint32(i))
		if err != nil {
			break
		}
		bytes[i] = b
	}

	for i := 0; i+3 < len(bytes); i++ {
		if bytes[i] == 0x8B && bytes[i+2] == 0x24 && bytes[i+3] == 0x04 {
			return false
		}
	}
	for i := 0; i+2 < len(bytes); i++ {
		if bytes[i] == 0x8B && bytes[i+2] == 0x08 &&
			(bytes[i+1] == 0x45 || bytes[i+1] == 0x75 || bytes[i+1] == 0x4D) {
			return false
		}
	}
	for i := 0; i+1 < len(bytes); i++ {
		if bytes[i] != 0x8B {
			continue
		}
		switch bytes[i+1] {
		case 0xF1, 0xF9, 0xD9, 0xC1, 0xC9:
			return true
		}
	}
	return false
}

// callVtableMethod invokes a vtable method at index, choosing stdcall or
// thiscall ABI shape based on detectCreateInstanceThiscall, and returns the
// HRESULT (EAX).
func callVtableMethod(h Host, objPtr uint32, index uint32, args []uint32) (uint32, error) {
	fn, err := vtableFn(h, objPtr, index)
	if err != nil {
		return 0, err
	}
	if detectCreateInstanceThiscall(h, fn) {
		return h.ExecuteAtWithECX(fn, objPtr, args)
	}
	full := append([]uint32{objPtr}, args...)
	return h.ExecuteAt(fn, full)
}
