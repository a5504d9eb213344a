package com

import "github.com/xyproto/pevm/internal/registry"

// Host decouples internal/com from the root VM type, the same narrow-
// interface pattern internal/winapi uses (see internal/winapi/host.go):
// the concrete *pevm.VM satisfies this structurally, so com never imports
// the root package and no import cycle results.
type Host interface {
	ReadU8(addr uint32) (byte, error)
	ReadU32(addr uint32) (uint32, error)
	WriteU32(addr uint32, v uint32) error
	ReadBytes(addr uint32, n int) ([]byte, error)

	// AllocBytes copies data into a freshly heap-allocated block (aligned
	// to align bytes) and returns its guest address.
	AllocBytes(data []byte, align uint32) (uint32, error)

	// ExecuteAt re-enters the interpreter at entry with args pushed
	// right-to-left (stdcall) and a sentinel return address, returning EAX
	// once EIP reaches that sentinel. This is the nested-reentry path
	// spec.md §4.6 describes for host->guest callbacks.
	ExecuteAt(entry uint32, args []uint32) (uint32, error)

	// ExecuteAtWithECX is ExecuteAt for thiscall targets: ecx (usually the
	// COM object's this-pointer) is loaded before entry and is not one of
	// the stdcall-pushed args.
	ExecuteAtWithECX(entry uint32, ecx uint32, args []uint32) (uint32, error)

	Base() uint32
	ContainsAddr(addr uint32) bool

	// CodeRange reports the loaded image's code section bounds, used by
	// the heap-scan vtable recovery heuristic in scan.go.
	CodeRange() (start, end uint32)

	// HeapAllocs reports every live heap allocation's (ptr -> size), and
	// HeapRange the bump-heap's [start,end) span; both are scanned by
	// scan.go when a factory reports success with a null out-pointer.
	HeapAllocs() map[uint32]uint32
	HeapRange() (start, end uint32)

	// ExportRVA resolves a named export of the currently loaded image.
	ExportRVA(name string) (uint32, bool)

	// EntryPointRVA returns the currently loaded image's
	// AddressOfEntryPoint, or false if it has none (data-only DLL).
	EntryPointRVA() (uint32, bool)

	Registry() *registry.Registry

	// MapPath translates a guest path (e.g. `C:\test.dll`) to a host
	// filesystem path per the VM's configured path mapping.
	MapPath(guestPath string) string

	// LoadAndResolve loads a PE image at hostPath into the VM's address
	// space (replacing whatever was previously loaded) and resolves its
	// imports, returning the new image base.
	LoadAndResolve(hostPath string) (base uint32, err error)

	TraceCOMf(format string, args ...any)

	// AllocHostStub registers a synthetic host-backed stdcall function of
	// argCount arguments and returns its callable guest address — the
	// same dynamic-import slot hostcall.Table.AllocateDynamic hands out
	// for a GetProcAddress lookup, reused here so a guest-visible vtable
	// slot can point at host Go code (the ActiveX client-site stubs in
	// activex.go). fn receives the Host back so it can read/write guest
	// memory at offsets the args themselves don't cover (struct fields
	// behind a `this` pointer, out-parameters).
	AllocHostStub(name string, argCount int, fn func(h Host, args []uint32) uint32) uint32

	// TypeLibResource returns the raw bytes of the currently loaded
	// image's RT_TYPELIB (resource type 6) resource, if it carries one —
	// the common case for an in-proc server whose type library is
	// embedded rather than shipped as a standalone .tlb file.
	TypeLibResource() ([]byte, bool)
}
