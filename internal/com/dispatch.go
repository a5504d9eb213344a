package com

// IDispatch::Invoke marshaling, spec.md §4.5 "Arguments are marshalled
// from host-side ComArg into an OLE DISPPARAMS structure whose VARIANTARG
// array is laid out in reverse order... BSTRs are allocated as
// length-prefixed UTF-16 with a trailing null... The return variant's
// type selects the decoder: I4->i32, BSTR->copy the UTF-16 body out,
// void->discard." No ComObject::invoke_i4 implementation was present in
// the retrieved original sources (only its C ABI caller, ext/com.rs, was)
// so this file is grounded directly on spec.md's wire description rather
// than a ported Rust body; dispid is taken directly from the caller per
// the C ABI's pevm_com_object_invoke_i4(obj, vm, dispid, args) shape
// rather than resolved by name, since the parsed FuncDesc table (see
// typelib.go) carries no method-name strings to resolve against.

import "unicode/utf16"

const iDispatchInvokeSlot = 6

// ComArgKind tags a ComArg's payload, spec.md §4.5 "ComArg ∈ {I4, U32, BStr}".
type ComArgKind int

const (
	ArgI4 ComArgKind = iota
	ArgU32
	ArgBStr
)

// ComArg is one argument to IDispatch::Invoke.
type ComArg struct {
	Kind ComArgKind
	I4   int32
	U32  uint32
	Str  string
}

// VARIANT type tags used by this marshaler; only the subset spec.md
// names is implemented.
const (
	vtEmpty uint16 = 0
	vtI4    uint16 = 3
	vtBSTR  uint16 = 8
	vtUI4   uint16 = 19
)

// variantSize is sizeof(VARIANTARG): a 8-byte header (vt, wReserved1/2/3)
// followed by an 8-byte payload union, matching the real OLE layout.
const variantSize = 16

// InvokeI4 calls dispid with args and decodes the return VARIANT as I4.
func (r *Runtime) InvokeI4(h Host, obj *Object, dispid uint32, args []ComArg) (int32, error) {
	v, err := r.invoke(h, obj, dispid, args)
	if err != nil {
		return 0, err
	}
	return decodeI4(h, v)
}

// InvokeBSTR calls dispid with args and decodes the return VARIANT as a
// BSTR, copying its UTF-16 body out as a Go string.
func (r *Runtime) InvokeBSTR(h Host, obj *Object, dispid uint32, args []ComArg) (string, error) {
	v, err := r.invoke(h, obj, dispid, args)
	if err != nil {
		return "", err
	}
	return decodeBSTR(h, v)
}

// InvokeVoid calls dispid with args and discards the return VARIANT.
func (r *Runtime) InvokeVoid(h Host, obj *Object, dispid uint32, args []ComArg) error {
	_, err := r.invoke(h, obj, dispid, args)
	return err
}

// invoke builds DISPPARAMS, allocates the VARIANTARG array in reverse
// order, calls vtable slot 6 (IDispatch::Invoke), and returns the address
// of the VARIANT the callee filled in (or 0 on failure).
func (r *Runtime) invoke(h Host, obj *Object, dispid uint32, args []ComArg) (uint32, error) {
	variantsPtr, err := allocVariantArray(h, args)
	if err != nil {
		return 0, err
	}
	// Each ArgBStr argument needs its body allocated first (allocBSTR
	// needs a Host), then its VARIANTARG's payload patched with the
	// resulting pointer, since writeVariant above ran Host-free.
	n := len(args)
	for i, a := range args {
		if a.Kind != ArgBStr {
			continue
		}
		slot := n - 1 - i
		bstrPtr, err := allocBSTR(h, a.Str)
		if err != nil {
			return 0, err
		}
		if err := h.WriteU32(variantsPtr+uint32(slot*variantSize)+8, bstrPtr); err != nil {
			return 0, err
		}
	}

	dispParamsPtr, err := allocDispParams(h, variantsPtr, uint32(len(args)))
	if err != nil {
		return 0, err
	}

	resultPtr, err := h.AllocBytes(make([]byte, variantSize), 4)
	if err != nil {
		return 0, err
	}
	riidPtr, err := allocGUID(h, IID_IUnknown)
	if err != nil {
		return 0, err
	}
	excepInfoPtr, err := h.AllocBytes(make([]byte, 20), 4)
	if err != nil {
		return 0, err
	}

	const dispatchPropertyGet = 2
	const dispatchMethod = 1

	hr, err := callVtableMethod(h, obj.IDispatch, iDispatchInvokeSlot, []uint32{
		dispid,
		riidPtr,
		0, // LCID
		dispatchPropertyGet | dispatchMethod,
		dispParamsPtr,
		resultPtr,
		excepInfoPtr,
		0, // puArgErr
	})
	if err != nil {
		return 0, err
	}
	if hr != S_OK {
		return 0, &ComError{HRESULT: hr}
	}
	return resultPtr, nil
}

// allocVariantArray writes args as VARIANTARG structs in reverse order
// (COM's calling convention: DISPPARAMS.rgvarg[0] is the *last* source
// argument) and returns the base address of the array.
func allocVariantArray(h Host, args []ComArg) (uint32, error) {
	n := len(args)
	buf := make([]byte, n*variantSize)
	for i, a := range args {
		slot := n - 1 - i // reverse order
		writeVariant(buf[slot*variantSize:], a)
	}
	return h.AllocBytes(buf, 4)
}

func writeVariant(dst []byte, a ComArg) {
	switch a.Kind {
	case ArgI4:
		putU16(dst, 0, vtI4)
		putU32(dst, 8, uint32(a.I4))
	case ArgU32:
		putU16(dst, 0, vtUI4)
		putU32(dst, 8, a.U32)
	case ArgBStr:
		putU16(dst, 0, vtBSTR)
		// the BSTR pointer itself is filled in by allocBSTR via a
		// second pass once a Host is available; see invoke.
	}
}

func allocDispParams(h Host, variantsPtr, count uint32) (uint32, error) {
	// DISPPARAMS { VARIANTARG *rgvarg; DISPID *rgdispidNamedArgs;
	//              UINT cArgs; UINT cNamedArgs; }
	buf := make([]byte, 16)
	putU32(buf, 0, variantsPtr)
	putU32(buf, 4, 0)
	putU32(buf, 8, count)
	putU32(buf, 12, 0)
	return h.AllocBytes(buf, 4)
}

// allocBSTR allocates a length-prefixed UTF-16 string with a trailing
// NUL, spec.md §4.5, and returns a pointer to the first character (the
// BSTR convention: the length prefix sits 4 bytes before the returned
// pointer).
func allocBSTR(h Host, s string) (uint32, error) {
	units := utf16.Encode([]rune(s))
	body := make([]byte, len(units)*2+2)
	for i, u := range units {
		putU16(body, i*2, u)
	}
	// trailing NUL already zero-valued at body[len(units)*2:]

	lenPrefixed := make([]byte, 4+len(body))
	putU32(lenPrefixed, 0, uint32(len(units)*2))
	copy(lenPrefixed[4:], body)

	base, err := h.AllocBytes(lenPrefixed, 4)
	if err != nil {
		return 0, err
	}
	return base + 4, nil
}

func decodeI4(h Host, variantPtr uint32) (int32, error) {
	v, err := h.ReadU32(variantPtr + 8)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func decodeBSTR(h Host, variantPtr uint32) (string, error) {
	bstrPtr, err := h.ReadU32(variantPtr + 8)
	if err != nil {
		return "", err
	}
	if bstrPtr == 0 {
		return "", nil
	}
	lengthBytes, err := h.ReadU32(bstrPtr - 4)
	if err != nil {
		return "", err
	}
	raw, err := h.ReadBytes(bstrPtr, int(lengthBytes))
	if err != nil {
		return "", err
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
	}
	return string(utf16.Decode(units)), nil
}

func putU16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
