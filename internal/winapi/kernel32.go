package winapi

import (
	"github.com/xyproto/pevm/internal/vmem"
)

// LastErrorHost reads back the VM's per-VM GetLastError/SetLastError
// cell, spec.md §4.5. Host.LastErrorSet writes the cell; GetLastError
// below reads it through this small companion interface so winapi doesn't
// need a second cyclic dependency just to read what it already asked the
// VM to store.
type LastErrorHost interface {
	Host
	LastErrorGet() uint32
}

func strArg(h Host, mem *vmem.Memory, ptr uint32, wide bool) string {
	if ptr == 0 {
		return ""
	}
	var s string
	if wide {
		s, _ = mem.ReadWideString(ptr)
	} else {
		s, _ = mem.ReadCString(ptr)
	}
	return s
}

// Kernel32Stubs is the practical subset of kernel32.dll this interpreter
// implements with real behavior; everything else in that module falls
// back to the generic stub catalogue in catalogue.go.
func Kernel32Stubs() []Stub {
	return []Stub{
		{Name: "GetProcessHeap", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0x00130000, nil // synthetic heap handle
		}},
		{Name: "HeapAlloc", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			size := arg(mem, sp, 2)
			zero := arg(mem, sp, 1)&0x8 != 0 // HEAP_ZERO_MEMORY
			ptr := h.HeapAlloc(size, 8)
			if zero && ptr != 0 {
				zeros := make([]byte, size)
				mem.WriteBytes(ptr, zeros)
			}
			return ptr, nil
		}},
		{Name: "HeapFree", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			h.HeapFree(arg(mem, sp, 2))
			return 1, nil
		}},
		{Name: "HeapReAlloc", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			ptr := arg(mem, sp, 2)
			size := arg(mem, sp, 3)
			return h.HeapRealloc(ptr, size), nil
		}},
		{Name: "HeapSize", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			size, ok := h.HeapSize(arg(mem, sp, 2))
			if !ok {
				return 0xFFFFFFFF, nil
			}
			return size, nil
		}},
		{Name: "VirtualAlloc", Args: 4, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			size := arg(mem, sp, 1)
			if size == 0 {
				size = 0x1000
			}
			return h.HeapAlloc(size, 0x1000), nil
		}},
		{Name: "VirtualFree", Args: 3, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			h.HeapFree(arg(mem, sp, 0))
			return 1, nil
		}},
		{Name: "GetLastError", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			if le, ok := h.(LastErrorHost); ok {
				return le.LastErrorGet(), nil
			}
			return 0, nil
		}},
		{Name: "SetLastError", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			h.LastErrorSet(arg(mem, sp, 0))
			return 0, nil
		}},
		{Name: "ExitProcess", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0, &ProcessExitError{Code: arg(mem, sp, 0)}
		}},
		{Name: "GetModuleHandleA", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0x00400000, nil // the loaded image's own base; multi-module lookup is out of scope
		}},
		{Name: "GetModuleHandleW", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0x00400000, nil
		}},
		{Name: "lstrlenA", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			s := strArg(h, mem, arg(mem, sp, 0), false)
			return uint32(len(s)), nil
		}},
		{Name: "lstrlenW", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			s := strArg(h, mem, arg(mem, sp, 0), true)
			return uint32(len([]rune(s))), nil
		}},
		{Name: "GetStdHandle", Args: 1, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			which := int32(arg(mem, sp, 0))
			switch which {
			case -11: // STD_OUTPUT_HANDLE
				return 0x00000007, nil
			case -12: // STD_ERROR_HANDLE
				return 0x00000008, nil
			case -10: // STD_INPUT_HANDLE
				return 0x00000006, nil
			}
			return 0xFFFFFFFF, nil
		}},
		{Name: "WriteConsoleA", Args: 5, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			bufPtr := arg(mem, sp, 1)
			n := arg(mem, sp, 2)
			data, _ := mem.ReadBytes(bufPtr, int(n))
			h.Stdout().Write(data)
			written := arg(mem, sp, 3)
			if written != 0 {
				mem.WriteU32(written, n)
			}
			return 1, nil
		}},
		{Name: "WriteFile", Args: 5, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			handle := arg(mem, sp, 0)
			bufPtr := arg(mem, sp, 1)
			n := arg(mem, sp, 2)
			if handle == 0x00000007 || handle == 0x00000008 {
				data, _ := mem.ReadBytes(bufPtr, int(n))
				h.Stdout().Write(data)
			}
			written := arg(mem, sp, 3)
			if written != 0 {
				mem.WriteU32(written, n)
			}
			return 1, nil
		}},
		{Name: "GetTickCount", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0, nil // deterministic: emulated time never advances on its own
		}},
		{Name: "TlsAlloc", Args: 0, Fn: func(h Host, mem *vmem.Memory, sp uint32) (uint32, error) {
			return 0, nil // always slot 0; TLS slots are not tracked
		}},
	}
}

// ProcessExitError unwinds the interpreter when the guest calls
// ExitProcess, spec.md §4.5 "ExitProcess" — treated as a normal stop
// condition rather than a failure.
type ProcessExitError struct{ Code uint32 }

func (e *ProcessExitError) Error() string { return "ExitProcess" }
