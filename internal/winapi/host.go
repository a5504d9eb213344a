// Package winapi is the emulated Windows API surface a guest PE image
// observes through its IAT: kernel32/user32/ntdll/ole32/oleaut32/
// advapi32/ws2_32/wininet/winhttp/ucrt/vcruntime, plus a large
// return-only stub catalogue for everything else, spec.md §4.5. Grounded
// on the teacher's dependencies.go (name -> implementation-source map,
// generalized here from "Git repo URL" to "host Go closure") and
// libdef.go (per-library function-signature catalogue, generalized from
// cdecl/FFI parameter records to the stdcall-argument reads each stub
// performs against the guest stack).
package winapi

import (
	"github.com/xyproto/pevm/internal/com"
	"github.com/xyproto/pevm/internal/registry"
	"github.com/xyproto/pevm/internal/vmem"
)

// Host is the surface a winapi stub needs from the owning VM: guest
// memory, the shared stdout buffer, and the registry/COM subsystems that
// live in sibling packages (passed through narrower interfaces below to
// avoid import cycles with internal/registry and internal/com).
type Host interface {
	Memory() *vmem.Memory
	Stdout() *StdoutBuffer
	HeapAlloc(size, align uint32) uint32
	HeapFree(ptr uint32)
	HeapSize(ptr uint32) (uint32, bool)
	HeapRealloc(ptr, newSize uint32) uint32
	TraceUnsupportedf(format string, args ...any)
	LastErrorSet(code uint32)
}

// RegistryHost is the advapi32 Reg* family's narrow extra requirement: a
// registry to operate on plus the HKEY handle table below. It does not
// include com.Host; ComHost below adds that for the ole32.go/oleaut32.go
// CoCreateInstance/CLSID paths.
type RegistryHost interface {
	Host
	Registry() *registry.Registry
	// RegistryHandles owns the HKEY pseudo-handle slab advapi32.go's
	// RegOpenKeyEx/RegCreateKeyEx/RegCloseKey operate on; kept on the VM
	// (like ComRuntime below) rather than as a winapi package-level
	// singleton so multiple VM instances in one process never share it.
	RegistryHandles() *com.HandleTable[registry.Key]
}

// ComHost is oleaut32/ole32's extra requirement: the narrow com.Host
// surface internal/com already defines, plus the process-wide
// com.Runtime the VM owns.
type ComHost interface {
	Host
	com.Host
	ComRuntime() *com.Runtime
}
