package winapi

import (
	"github.com/xyproto/pevm/internal/com"
	"github.com/xyproto/pevm/internal/vmem"
)

// Ole32Stubs is the practical ole32.dll subset: COM apartment
// initialization (accepted and ignored — this emulator has no real
// apartment/thread model) plus CLSID string conversion and guest-driven
// object creation, delegating to internal/com for the activation pipeline
// spec.md §4.5 describes.
func Ole32Stubs() []Stub {
	return []Stub{
		{Name: "CoInitialize", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return com.S_OK, nil
		}},
		{Name: "CoInitializeEx", Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return com.S_OK, nil
		}},
		{Name: "CoUninitialize", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0, nil
		}},
		{Name: "CLSIDFromString", Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			str := strArg(h, mem, arg(mem, sp, 0), true)
			outPtr := arg(mem, sp, 1)
			guid, err := com.ParseGUID(str)
			if err != nil {
				return 0x80070057, nil // E_INVALIDARG
			}
			if outPtr != 0 {
				mem.WriteBytes(outPtr, guid[:])
			}
			return com.S_OK, nil
		}},
		{Name: "StringFromCLSID2", Args: 2, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ptr := arg(mem, sp, 0)
			outPtr := arg(mem, sp, 1)
			var guid [16]byte
			b, err := mem.ReadBytes(ptr, 16)
			if err == nil {
				copy(guid[:], b)
			}
			s := com.FormatGUID(guid)
			if outPtr != 0 {
				mem.WriteWideString(outPtr, s)
			}
			return com.S_OK, nil
		}},
		{Name: "CoCreateInstance", Args: 5, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ch, ok := h.(ComHost)
			if !ok {
				return 0x80004005, nil // E_FAIL
			}
			clsidPtr := arg(mem, sp, 0)
			riidPtr := arg(mem, sp, 3)
			outPtr := arg(mem, sp, 4)

			clsidBytes, err := mem.ReadBytes(clsidPtr, 16)
			if err != nil {
				return 0x80070057, nil
			}
			var clsid [16]byte
			copy(clsid[:], clsidBytes)

			obj, err := ch.ComRuntime().CreateInstanceInproc(ch, com.FormatGUID(clsid))
			if err != nil {
				return 0x80040154, nil // REGDB_E_CLASSNOTREG
			}
			_ = riidPtr // IID-specific QueryInterface already happened during activation
			if outPtr != 0 {
				mem.WriteU32(outPtr, obj.IDispatch)
			}
			return com.S_OK, nil
		}},
	}
}
