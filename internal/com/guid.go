// Package com implements spec.md §4.5's COM runtime: CLSID activation via
// the guest's own DllGetClassObject/IClassFactory::CreateInstance vtable
// calls, IDispatch::Invoke marshaling, MSFT-format typelib parsing, and the
// ActiveX client-site handshake. Grounded on
// original_source/src/vm/windows/com/runtime/{mod,loader,instance,scan,activex}.rs
// and com/runtime/activex/handlers.rs — the activation sequence, thiscall
// heuristics, and heap-scan recovery are carried over from the Rust
// implementation; the handle-slab idiom (internal/com's one genuinely new
// Go-side structure) is grounded on the teacher's `register_tracker.go`
// availability-map-plus-stack pattern, repurposed from register liveness to
// COM/TypeLib handle liveness.
package com

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidGUIDError reports a malformed "{XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX}" literal.
type InvalidGUIDError struct{ Raw string }

func (e *InvalidGUIDError) Error() string { return fmt.Sprintf("invalid GUID: %q", e.Raw) }

// ParseGUID decodes a braced GUID string into its 16-byte wire layout
// (little-endian Data1/Data2/Data3, then the 8 Data4 bytes verbatim).
func ParseGUID(input string) ([16]byte, error) {
	var out [16]byte
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(input), "{"), "}")
	parts := strings.Split(trimmed, "-")
	if len(parts) != 5 {
		return out, &InvalidGUIDError{Raw: input}
	}
	data1, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return out, &InvalidGUIDError{Raw: input}
	}
	data2, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return out, &InvalidGUIDError{Raw: input}
	}
	data3, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return out, &InvalidGUIDError{Raw: input}
	}
	if len(parts[3]) != 4 || len(parts[4]) != 12 {
		return out, &InvalidGUIDError{Raw: input}
	}
	var data4 [8]byte
	for i := 0; i < 2; i++ {
		b, err := strconv.ParseUint(parts[3][i*2:i*2+2], 16, 8)
		if err != nil {
			return out, &InvalidGUIDError{Raw: input}
		}
		data4[i] = byte(b)
	}
	for i := 0; i < 6; i++ {
		b, err := strconv.ParseUint(parts[4][i*2:i*2+2], 16, 8)
		if err != nil {
			return out, &InvalidGUIDError{Raw: input}
		}
		data4[i+2] = byte(b)
	}
	out[0] = byte(data1)
	out[1] = byte(data1 >> 8)
	out[2] = byte(data1 >> 16)
	out[3] = byte(data1 >> 24)
	out[4] = byte(data2)
	out[5] = byte(data2 >> 8)
	out[6] = byte(data3)
	out[7] = byte(data3 >> 8)
	copy(out[8:], data4[:])
	return out, nil
}

// FormatGUID renders the wire layout back into braced string form.
func FormatGUID(b [16]byte) string {
	data1 := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	data2 := uint16(b[4]) | uint16(b[5])<<8
	data3 := uint16(b[6]) | uint16(b[7])<<8
	return fmt.Sprintf("{%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X}",
		data1, data2, data3, b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}

// NormalizeCLSID upper-cases and re-braces a CLSID string so registry
// lookups are consistent regardless of how the caller wrote it.
func NormalizeCLSID(clsid string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(clsid), "{"), "}")
	return "{" + strings.ToUpper(trimmed) + "}"
}

const (
	IID_IUnknown     = "{00000000-0000-0000-C000-000000000046}"
	IID_IClassFactory = "{00000001-0000-0000-C000-000000000046}"
	IID_IDispatch    = "{00020400-0000-0000-C000-000000000046}"

	IID_IOleClientSite     = "{00000118-0000-0000-C000-000000000046}"
	IID_IOleObject         = "{00000112-0000-0000-C000-000000000046}"
	IID_IOleInPlaceSite    = "{00000119-0000-0000-C000-000000000046}"
	IID_IOleInPlaceFrame   = "{00000116-0000-0000-C000-000000000046}"
	IID_IOleInPlaceUIWindow = "{00000115-0000-0000-C000-000000000046}"
	IID_IOleWindow         = "{00000114-0000-0000-C000-000000000046}"
)

const (
	S_OK           uint32 = 0
	E_NOTIMPL      uint32 = 0x80004001
	E_NOINTERFACE  uint32 = 0x80004002
	E_FAIL         uint32 = 0x80004005
)

// ComError wraps a non-zero HRESULT returned by a guest COM method.
type ComError struct{ HRESULT uint32 }

func (e *ComError) Error() string { return fmt.Sprintf("COM call failed: HRESULT=0x%08X", e.HRESULT) }
