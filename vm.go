// Package pevm is an in-process user-mode emulator for 32-bit x86 Windows
// PE images: it parses and relocates a PE32 file (internal/peformat,
// internal/image), interprets its x86 machine code (internal/x86) against
// a flat virtual address space (internal/vmem), and answers the imports
// that code calls against an emulated Windows/COM host surface
// (internal/hostcall, internal/winapi, internal/com). VM is the single
// type gluing those packages together; spec.md §4 describes the pipeline
// this file assembles. Grounded on the teacher's engine.go (the struct
// that owns the CPU, memory, and symbol tables and drives the top-level
// run loop), generalized from "emulate one ELF process to completion" to
// "load, resolve, and selectively re-enter a PE image as a library".
package pevm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xyproto/pevm/internal/com"
	"github.com/xyproto/pevm/internal/cpustate"
	"github.com/xyproto/pevm/internal/hostcall"
	"github.com/xyproto/pevm/internal/image"
	"github.com/xyproto/pevm/internal/peformat"
	"github.com/xyproto/pevm/internal/registry"
	"github.com/xyproto/pevm/internal/trace"
	"github.com/xyproto/pevm/internal/vmem"
	"github.com/xyproto/pevm/internal/winapi"
	"github.com/xyproto/pevm/internal/x86"
)

// VM is one emulated process: its configuration, the shared host-call
// table every loaded image resolves imports against, and whichever PE
// image is currently loaded into its single flat address space.
//
// Only one image is resident at a time (spec.md's COM activation path
// loads a server DLL by calling LoadAndResolve, which replaces the
// primary image the way a real process's LoadLibrary would map a second
// module — this VM models a single emulated address space rather than a
// multi-module process, so "loading" a second PE file means the first
// one's memory is gone; this is the one deliberate simplification from a
// real Windows process and is recorded in DESIGN.md).
type VM struct {
	cfg   Config
	trace *trace.Flags
	table *hostcall.Table

	comRuntime      *com.Runtime
	registryHandles *com.HandleTable[registry.Key]
	stdout          *winapi.StdoutBuffer
	lastError       uint32

	img   *image.Image
	state *cpustate.State
}

// New builds a VM and registers every emulated Windows API module against
// its host-call table, spec.md §4.5's "module catalogue". Individual
// programs can still add or override entries afterward via RegisterImport.
func New(cfg Config) *VM {
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	vm := &VM{
		cfg:             cfg,
		trace:           trace.Load(),
		table:           hostcall.NewTable(),
		comRuntime:      com.NewRuntime(),
		registryHandles: com.NewHandleTable[registry.Key]("registry", 0x00000010),
		stdout:          &winapi.StdoutBuffer{},
	}

	winapi.RegisterModule(vm.table, "kernel32.dll", winapi.Kernel32Stubs())
	winapi.RegisterModule(vm.table, "ntdll.dll", winapi.NtdllStubs())
	winapi.RegisterModule(vm.table, "advapi32.dll", winapi.Advapi32Stubs())
	winapi.RegisterModule(vm.table, "ole32.dll", winapi.Ole32Stubs())
	winapi.RegisterModule(vm.table, "oleaut32.dll", winapi.Oleaut32Stubs())
	winapi.RegisterModule(vm.table, "msvcrt.dll", winapi.PrintfFamily())
	winapi.RegisterModule(vm.table, "ucrtbase.dll", winapi.PrintfFamily())
	winapi.RegisterModule(vm.table, "user32.dll", winapi.User32Stubs())
	winapi.RegisterModule(vm.table, "ws2_32.dll", winapi.Ws2_32Stubs())
	winapi.RegisterModule(vm.table, "wininet.dll", winapi.WinINetStubs(cfg.WinINetHost, cfg.WinINetPath, cfg.WinINetFormOverrides))
	winapi.RegisterModule(vm.table, "winhttp.dll", winapi.WinHTTPStubs(cfg.WinINetHost, cfg.WinINetPath, cfg.WinINetFormOverrides))

	for module, stubs := range winapi.Catalogue() {
		winapi.RegisterModule(vm.table, module, stubs)
	}

	return vm
}

// RegisterImport installs (or overrides) a single host function under
// (module, name), the escape hatch spec.md §4.4 reserves for a caller
// that needs a synthetic import the built-in catalogue doesn't model
// (test fixtures binding a capturing stand-in, or a program-specific
// fake DLL).
func (vm *VM) RegisterImport(module, name string, fn func(vm any, stackPtr uint32) (uint32, error), stdcallCleanup uint32) {
	vm.table.Register(module, name, fn, stdcallCleanup)
}

// LoadImage parses raw as a PE32 file and maps it into a fresh virtual
// address space at the image's own preferred ImageBase, replacing any
// image previously loaded into this VM. Execution state (registers,
// flags) is reset; RegisterImport bindings on the shared host-call table
// are unaffected.
func (vm *VM) LoadImage(raw []byte) error {
	return vm.loadImageAt(raw, 0)
}

// LoadImageAt is LoadImage with an explicit load base, spec.md §8's
// relocation scenario: when loadBase differs from the image's own
// ImageBase, internal/image.Load applies every HIGHLOW base relocation
// by the resulting delta before this VM's entry point or exports are
// ever executed against it. loadBase == 0 behaves exactly like
// LoadImage (preferred ImageBase, no relocation needed).
func (vm *VM) LoadImageAt(raw []byte, loadBase uint32) error {
	return vm.loadImageAt(raw, loadBase)
}

func (vm *VM) loadImageAt(raw []byte, loadBase uint32) error {
	file, err := peformat.Parse(raw)
	if err != nil {
		return &PeError{Err: err}
	}
	img, err := image.Load(file, loadBase)
	if err != nil {
		return translateLoadError(err)
	}
	vm.img = img
	vm.state = cpustate.NewState()
	vm.state.EIP = img.EntryPoint()
	vm.trace.Logf("loaded image base=0x%08X size=0x%08X entry=0x%08X", img.LoadBase, file.Opt.SizeOfImage, vm.state.EIP)
	return nil
}

// ResolveImports binds every import of the currently loaded image's IAT
// against the host-call table, spec.md §4.4. It returns a
// MissingImportsError naming every label that could not be bound — the
// complete set, not just the first — leaving whatever could be resolved
// already patched into the IAT.
func (vm *VM) ResolveImports() error {
	if vm.img == nil {
		return &NoImageError{}
	}
	res := hostcall.Resolve(vm.img.Mem, vm.img.LoadBase, vm.img.File.Imports, vm.table)
	if len(res.Missing) > 0 {
		for _, label := range res.Missing {
			vm.trace.Importf("unresolved import %s", label)
		}
		return &MissingImportsError{Labels: res.Missing}
	}
	return nil
}

// ExecuteExport resolves name against the loaded image's export table and
// runs it to completion with args pushed stdcall (right-to-left),
// returning EAX.
func (vm *VM) ExecuteExport(name string, args []uint32) (uint32, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	sym, ok := vm.img.ExportRVA(name)
	if !ok {
		return 0, &MissingExportError{Name: name}
	}
	if sym.IsForwarder {
		return 0, &MissingExportError{Name: name + " (forwarder: " + sym.Forwarder + ")"}
	}
	return vm.ExecuteAt(vm.img.LoadBase+sym.RVA, args)
}

// ExecuteEntry runs the loaded image's AddressOfEntryPoint to completion
// (DllMain/WinMain/main, whichever the image is), returning EAX.
func (vm *VM) ExecuteEntry(args []uint32) (uint32, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	return vm.ExecuteAt(vm.img.EntryPoint(), args)
}

// executeAtSentinel is the fixed return address every nested entry pushes;
// the step loop below runs until EIP equals it, spec.md §4.6 "execute_at_with_stack".
const executeAtSentinel = 0

// ExecuteAt is the nested re-entry primitive spec.md §4.6 describes and
// com.Host/the public API both use: push args stdcall (right-to-left),
// push the sentinel return address, run until EIP reaches that sentinel,
// then restore every register and flag except EAX to what they were
// before the call (spec.md §8 "nested re-entry invariance").
func (vm *VM) ExecuteAt(entry uint32, args []uint32) (uint32, error) {
	return vm.executeAt(entry, 0, false, args)
}

// ExecuteAtWithECX is ExecuteAt for thiscall targets (COM vtable methods):
// ecx is loaded before entry and is not among the stdcall-pushed args.
func (vm *VM) ExecuteAtWithECX(entry, ecx uint32, args []uint32) (uint32, error) {
	return vm.executeAt(entry, ecx, true, args)
}

func (vm *VM) executeAt(entry, ecx uint32, setECX bool, args []uint32) (uint32, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	mem := vm.img.Mem
	snapshot := vm.state.Snapshot()

	sp := vm.state.Get32(cpustate.ESP)
	if sp == 0 {
		sp = mem.TopOfStack()
	}
	for i := len(args) - 1; i >= 0; i-- {
		sp -= 4
		if err := mem.WriteU32(sp, args[i]); err != nil {
			vm.state.Restore(snapshot)
			return 0, translateMemError(err)
		}
	}
	sp -= 4
	if err := mem.WriteU32(sp, executeAtSentinel); err != nil {
		vm.state.Restore(snapshot)
		return 0, translateMemError(err)
	}
	vm.state.Set32(cpustate.ESP, sp)
	if setECX {
		vm.state.Set32(cpustate.ECX, ecx)
	}
	vm.state.EIP = entry

	cpu := x86.NewCPU(vm.state, mem, vm.table, vm.trace, vm.cfg.ExecutionLimit)

	for {
		hit, err := cpu.Step()
		if _, ok := err.(*x86.HaltInstruction); ok {
			break
		}
		if err != nil {
			vm.state.Restore(snapshot)
			return 0, translateStepError(err)
		}
		if hit != nil {
			vm.trace.Importf("call %s", vm.importLabel(hit.Addr))
			if err := hostcall.JumpImport(vm, vm.state, mem, vm.table, hit.Addr); err != nil {
				if exitErr, ok := err.(*winapi.ProcessExitError); ok {
					result := exitErr.Code
					vm.state.Restore(snapshot)
					vm.state.Set32(cpustate.EAX, result)
					return result, nil
				}
				vm.state.Restore(snapshot)
				return 0, translateCallError(err)
			}
			continue
		}
		if vm.state.EIP == executeAtSentinel {
			break
		}
	}

	result := vm.state.Get32(cpustate.EAX)
	vm.state.Restore(snapshot)
	vm.state.Set32(cpustate.EAX, result)
	return result, nil
}

func (vm *VM) importLabel(addr uint32) string {
	if label, ok := vm.table.LabelAt(addr); ok {
		return label
	}
	return fmt.Sprintf("0x%08X", addr)
}

func translateLoadError(err error) error {
	if _, ok := err.(*image.UnsupportedRelocationError); ok {
		return &PeError{Err: err}
	}
	return &IoError{Err: err}
}

func translateMemError(err error) error {
	return &MemoryOutOfRangeError{Err: err}
}

func translateStepError(err error) error {
	switch e := err.(type) {
	case *x86.UnsupportedOpcodeError:
		return &UnsupportedInstructionError{Err: e}
	case *x86.DivideError:
		return &DivideError{Err: e}
	case *x86.ExecutionLimitError:
		return &ExecutionLimitError{Err: e}
	default:
		return &MemoryOutOfRangeError{Err: err}
	}
}

func translateCallError(err error) error {
	if _, ok := err.(*hostcall.MissingImportError); ok {
		return &MissingImportsError{Labels: []string{err.Error()}}
	}
	return err
}

// ReadU8, ReadU16, ReadU32, ReadU64, WriteU8, WriteU16, and WriteU32 give
// callers (tests above all) direct access to the loaded image's virtual
// memory without reaching into internal/vmem themselves.

func (vm *VM) ReadU8(addr uint32) (byte, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	return vm.img.Mem.ReadU8(addr)
}

func (vm *VM) ReadU16(addr uint32) (uint16, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	return vm.img.Mem.ReadU16(addr)
}

func (vm *VM) ReadU32(addr uint32) (uint32, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	return vm.img.Mem.ReadU32(addr)
}

func (vm *VM) ReadU64(addr uint32) (uint64, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	return vm.img.Mem.ReadU64(addr)
}

func (vm *VM) WriteU8(addr uint32, v uint8) error {
	if vm.img == nil {
		return &NoImageError{}
	}
	return vm.img.Mem.WriteU8(addr, v)
}

func (vm *VM) WriteU16(addr uint32, v uint16) error {
	if vm.img == nil {
		return &NoImageError{}
	}
	return vm.img.Mem.WriteU16(addr, v)
}

func (vm *VM) WriteU32(addr uint32, v uint32) error {
	if vm.img == nil {
		return &NoImageError{}
	}
	return vm.img.Mem.WriteU32(addr, v)
}

// ReadBytes satisfies com.Host and gives tests raw byte-range access.
func (vm *VM) ReadBytes(addr uint32, n int) ([]byte, error) {
	if vm.img == nil {
		return nil, &NoImageError{}
	}
	return vm.img.Mem.ReadBytes(addr, n)
}

// Stdout exposes the buffered output WriteConsoleA/WriteFile/printf write
// to, spec.md §8 scenario 1's "stdout exactly...".
func (vm *VM) Stdout() *winapi.StdoutBuffer { return vm.stdout }

// --- com.Host ---

// AllocBytes copies data into a freshly heap-allocated, align-aligned
// block and returns its guest address, spec.md §4.5 activation helper.
func (vm *VM) AllocBytes(data []byte, align uint32) (uint32, error) {
	if vm.img == nil {
		return 0, &NoImageError{}
	}
	ptr := vm.img.Mem.Heap.Alloc(uint32(len(data)), align)
	if err := vm.img.Mem.WriteBytes(ptr, data); err != nil {
		return 0, translateMemError(err)
	}
	return ptr, nil
}

func (vm *VM) Base() uint32 {
	if vm.img == nil {
		return 0
	}
	return vm.img.LoadBase
}

func (vm *VM) ContainsAddr(addr uint32) bool {
	if vm.img == nil {
		return false
	}
	return vm.img.Contains(addr)
}

// CodeRange reports the union of every executable section's address
// range, used by internal/com's heap-scan vtable recovery heuristic.
func (vm *VM) CodeRange() (start, end uint32) {
	if vm.img == nil {
		return 0, 0
	}
	const imageScnMemExecute = 0x20000000
	var lo, hi uint32
	found := false
	for _, s := range vm.img.File.Sections {
		if s.Characteristics&imageScnMemExecute == 0 {
			continue
		}
		secLo := vm.img.LoadBase + s.VirtualAddress
		secHi := secLo + s.VirtualSize
		if !found || secLo < lo {
			lo = secLo
		}
		if !found || secHi > hi {
			hi = secHi
		}
		found = true
	}
	if !found {
		return vm.img.LoadBase, vm.img.LoadBase + vm.img.File.Opt.SizeOfImage
	}
	return lo, hi
}

func (vm *VM) HeapAllocs() map[uint32]uint32 {
	if vm.img == nil {
		return nil
	}
	return vm.img.Mem.Heap.Allocs()
}

func (vm *VM) HeapRange() (start, end uint32) {
	if vm.img == nil {
		return 0, 0
	}
	return vm.img.Mem.Heap.Range()
}

// ExportRVA returns the RVA (not yet added to a load base) of a named
// export, matching internal/com/activation.go's own `base+rva` call sites.
func (vm *VM) ExportRVA(name string) (uint32, bool) {
	if vm.img == nil {
		return 0, false
	}
	sym, ok := vm.img.ExportRVA(name)
	if !ok {
		return 0, false
	}
	return sym.RVA, true
}

func (vm *VM) EntryPointRVA() (uint32, bool) {
	if vm.img == nil {
		return 0, false
	}
	rva := vm.img.File.Opt.AddressOfEntryPoint
	return rva, rva != 0
}

func (vm *VM) Registry() *registry.Registry { return vm.cfg.Registry }

// MapPath translates a guest Windows path into a host filesystem path:
// the drive letter is dropped, backslashes become the host separator, and
// the result is joined under Config.RootDir, spec.md §6 "path mapping".
func (vm *VM) MapPath(guestPath string) string {
	p := guestPath
	if len(p) >= 2 && p[1] == ':' {
		p = p[2:]
	}
	p = strings.ReplaceAll(p, `\`, string(filepath.Separator))
	p = strings.TrimPrefix(p, string(filepath.Separator))
	if vm.cfg.RootDir == "" {
		return p
	}
	return filepath.Join(vm.cfg.RootDir, p)
}

// LoadAndResolve loads a PE image at hostPath into this VM, replacing
// whatever was previously loaded, and resolves its imports — the
// primitive internal/com's activation pipeline uses to bring a COM
// server DLL into the emulated address space.
func (vm *VM) LoadAndResolve(hostPath string) (uint32, error) {
	raw, err := os.ReadFile(hostPath)
	if err != nil {
		return 0, &IoError{Err: err}
	}
	if err := vm.LoadImage(raw); err != nil {
		return 0, err
	}
	if err := vm.ResolveImports(); err != nil {
		vm.trace.COMf("LoadAndResolve(%s): %v", hostPath, err)
	}
	return vm.img.LoadBase, nil
}

func (vm *VM) TraceCOMf(format string, args ...any) { vm.trace.COMf(format, args...) }

// AllocHostStub registers a synthetic stdcall host function of argCount
// arguments under a dynamic-import slot and returns its callable guest
// address, the mechanism internal/com/activex.go uses to hand the guest a
// vtable whose methods are host Go closures.
func (vm *VM) AllocHostStub(name string, argCount int, fn func(h com.Host, args []uint32) uint32) uint32 {
	return vm.table.AllocateDynamic("$host", name, func(v any, sp uint32) (uint32, error) {
		h := v.(*VM)
		args := make([]uint32, argCount)
		for i := 0; i < argCount; i++ {
			args[i], _ = hostcall.Arg(h.img.Mem, sp, uint32(i))
		}
		return fn(h, args), nil
	}, uint32(argCount)*4)
}

// TypeLibResource returns the currently loaded image's RT_TYPELIB (type 6)
// resource bytes, if it carries one embedded.
func (vm *VM) TypeLibResource() ([]byte, bool) {
	if vm.img == nil || vm.img.File.Resources == nil {
		return nil, false
	}
	return findResourceLeaf(vm.img.File.Resources, 6)
}

func findResourceLeaf(dir *peformat.ResourceDir, typeID uint32) ([]byte, bool) {
	for _, e := range dir.Entries {
		if e.IsString || e.ID != typeID {
			continue
		}
		if e.Leaf != nil {
			return e.Leaf.Data, true
		}
		if e.Subdir != nil {
			if data, ok := firstLeafData(e.Subdir); ok {
				return data, true
			}
		}
	}
	return nil, false
}

func firstLeafData(dir *peformat.ResourceDir) ([]byte, bool) {
	for _, e := range dir.Entries {
		if e.IsLeaf && e.Leaf != nil {
			return e.Leaf.Data, true
		}
		if e.Subdir != nil {
			if data, ok := firstLeafData(e.Subdir); ok {
				return data, true
			}
		}
	}
	return nil, false
}

// --- winapi.Host / RegistryHost / ComHost ---

func (vm *VM) Memory() *vmem.Memory {
	if vm.img == nil {
		return nil
	}
	return vm.img.Mem
}

func (vm *VM) HeapAlloc(size, align uint32) uint32 {
	return vm.img.Mem.Heap.Alloc(size, align)
}

func (vm *VM) HeapFree(ptr uint32) { vm.img.Mem.Heap.Free(ptr) }

func (vm *VM) HeapSize(ptr uint32) (uint32, bool) { return vm.img.Mem.Heap.Size(ptr) }

func (vm *VM) HeapRealloc(ptr, newSize uint32) uint32 {
	oldSize, hadOld := vm.img.Mem.Heap.Size(ptr)
	newPtr := vm.img.Mem.Heap.Realloc(ptr, newSize)
	if hadOld && newPtr != 0 {
		n := oldSize
		if newSize < n {
			n = newSize
		}
		if data, err := vm.img.Mem.ReadBytes(ptr, int(n)); err == nil {
			vm.img.Mem.WriteBytes(newPtr, data)
		}
	}
	return newPtr
}

func (vm *VM) TraceUnsupportedf(format string, args ...any) { vm.trace.Unsupportedf(format, args...) }

func (vm *VM) LastErrorSet(code uint32) { vm.lastError = code }

func (vm *VM) LastErrorGet() uint32 { return vm.lastError }

func (vm *VM) RegistryHandles() *com.HandleTable[registry.Key] { return vm.registryHandles }

func (vm *VM) ComRuntime() *com.Runtime { return vm.comRuntime }

// ComInvokeI4 drives IDispatch::Invoke for dispid against obj with args
// and decodes the return VARIANT as a 32-bit signed integer, spec.md §8
// scenario 4's com_invoke_i4 entry point.
func ComInvokeI4(vm *VM, obj *com.Object, dispid uint32, args []com.ComArg) (int32, error) {
	v, err := vm.comRuntime.InvokeI4(vm, obj, dispid, args)
	if err != nil {
		return 0, &ComError{Err: err}
	}
	return v, nil
}

// ComCreateInstance drives the full in-process COM activation pipeline
// for clsid (spec.md §4.5), returning the activated object.
func ComCreateInstance(vm *VM, clsid string) (*com.Object, error) {
	obj, err := vm.comRuntime.CreateInstanceInproc(vm, clsid)
	if err != nil {
		return nil, &ComError{Err: err}
	}
	return obj, nil
}
