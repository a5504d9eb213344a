package hostcall

import (
	"fmt"

	"github.com/xyproto/pevm/internal/cpustate"
	"github.com/xyproto/pevm/internal/vmem"
)

// MissingImportError is returned when the interpreter lands on an IAT slot
// (or a raw CALL target) the Table has no Func bound to, spec.md §7
// "MissingImportsError" surfaced per-call rather than only at resolve time —
// this is the case where a guest program computes a call target dynamically.
type MissingImportError struct {
	Addr uint32
}

func (e *MissingImportError) Error() string {
	return fmt.Sprintf("no host function bound at 0x%08X", e.Addr)
}

// CallImport implements spec.md §4.4 "try_call_import" for callers that
// invoke a bound host Func directly rather than via guest CALL/JMP
// decoding — ExecuteExport calling a DLL export that happens to be a
// stub, or the COM runtime invoking a registered host function by
// address. It pushes returnEIP itself before handing control to Fn, the
// mirror image of JumpImport below (which assumes the return address is
// already on the guest stack).
func CallImport(vm any, state *cpustate.State, mem *vmem.Memory, table *Table, addr uint32, returnEIP uint32) error {
	f, ok := table.FuncAt(addr)
	if !ok {
		return &MissingImportError{Addr: addr}
	}
	sp := state.Get32(cpustate.ESP) - 4
	if err := mem.WriteU32(sp, returnEIP); err != nil {
		return err
	}
	state.Set32(cpustate.ESP, sp)

	result, err := f.Fn(vm, sp+4) // stack_ptr points at the first stdcall argument
	if err != nil {
		return err
	}
	state.Set32(cpustate.EAX, result)

	retAddr, err := mem.ReadU32(sp)
	if err != nil {
		return err
	}
	state.Set32(cpustate.ESP, sp+4+f.StackCleanup)
	state.EIP = retAddr
	return nil
}

// JumpImport implements spec.md §4.4 "try_jump_import", the tail-call
// variant used by import thunks (`JMP [iat]`): the return address is
// already the caller's, sitting at the top of the guest stack, so unlike
// CallImport nothing new is pushed.
func JumpImport(vm any, state *cpustate.State, mem *vmem.Memory, table *Table, addr uint32) error {
	f, ok := table.FuncAt(addr)
	if !ok {
		return &MissingImportError{Addr: addr}
	}
	sp := state.Get32(cpustate.ESP)
	result, err := f.Fn(vm, sp+4)
	if err != nil {
		return err
	}
	state.Set32(cpustate.EAX, result)

	retAddr, err := mem.ReadU32(sp)
	if err != nil {
		return err
	}
	state.Set32(cpustate.ESP, sp+4+f.StackCleanup)
	state.EIP = retAddr
	return nil
}

// Arg reads the n-th stdcall argument (0-based) relative to stackPtr, the
// value CallImport/JumpImport hand to every Func.
func Arg(mem *vmem.Memory, stackPtr uint32, n uint32) (uint32, error) {
	return mem.ReadU32(stackPtr + n*4)
}
