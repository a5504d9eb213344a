package x86

import (
	"fmt"

	"github.com/xyproto/pevm/internal/cpustate"
	"github.com/xyproto/pevm/internal/hostcall"
	"github.com/xyproto/pevm/internal/trace"
	"github.com/xyproto/pevm/internal/vmem"
)

// UnsupportedOpcodeError is returned for any byte sequence this decoder
// does not implement, spec.md §7 "UnsupportedInstructionError". Kept
// local to internal/x86 (rather than the root package's typed error) to
// avoid an import cycle; the root VM wraps this into its own error type.
type UnsupportedOpcodeError struct {
	Opcode   byte
	Extended bool
	EIP      uint32
}

func (e *UnsupportedOpcodeError) Error() string {
	if e.Extended {
		return fmt.Sprintf("unsupported opcode 0F %02X at EIP=0x%08X", e.Opcode, e.EIP)
	}
	return fmt.Sprintf("unsupported opcode %02X at EIP=0x%08X", e.Opcode, e.EIP)
}

// DivideError is returned on guest DIV/IDIV by zero, spec.md §7
// "DivideErrorError".
type DivideError struct{}

func (e *DivideError) Error() string { return "divide error" }

// ExecutionLimitError is returned when Step budget is exhausted without
// the interpreter reaching a stop condition, spec.md §7
// "ExecutionLimitError" / "configurable execution-step budget".
type ExecutionLimitError struct {
	Steps uint64
}

func (e *ExecutionLimitError) Error() string {
	return fmt.Sprintf("execution step limit reached after %d steps", e.Steps)
}

// ImportHit is returned by Step when EIP lands on an address bound to a
// host Func in the hostcall.Table. By the time Step detects this, the
// normal CALL/JMP instruction that got EIP here has already done whatever
// stack bookkeeping it needed (CALL pushed a return address, a thunk's
// JMP [iat] left the caller's return address already on top) — so the
// root VM always resumes via hostcall.JumpImport: read the return
// address, invoke the Func, pop, apply stdcall cleanup. The interpreter
// itself never executes host code directly, it only reports the landing
// so the caller can use its own *pevm.VM as the callback receiver.
type ImportHit struct {
	Addr uint32
}

// CPU couples the register file and guest memory with the host import
// table and trace flags needed to decode and execute one instruction at a
// time, spec.md §4.2.
type CPU struct {
	State *cpustate.State
	Mem   *vmem.Memory
	Table *hostcall.Table
	Trace *trace.Flags

	Steps uint64
	Limit uint64 // 0 means unlimited
}

// NewCPU returns a CPU ready to execute starting at state.EIP.
func NewCPU(state *cpustate.State, mem *vmem.Memory, table *hostcall.Table, tr *trace.Flags, limit uint64) *CPU {
	return &CPU{State: state, Mem: mem, Table: table, Trace: tr, Limit: limit}
}

func (c *CPU) segBase(p Prefixes) uint32 {
	switch p.Segment {
	case SegFS, SegGS:
		return c.Mem.FSBase()
	default:
		return 0
	}
}

// Step decodes and executes exactly one instruction at State.EIP,
// advancing EIP past it (unless the instruction itself sets EIP, e.g. a
// branch). Returns an *ImportHit without advancing further when EIP lands
// on a bound host import — the caller must invoke hostcall.CallImport /
// JumpImport and re-enter Step.
func (c *CPU) Step() (*ImportHit, error) {
	if c.Limit != 0 && c.Steps >= c.Limit {
		return nil, &ExecutionLimitError{Steps: c.Steps}
	}
	c.Steps++

	if f, ok := c.Table.FuncAt(c.State.EIP); ok {
		_ = f
		return &ImportHit{Addr: c.State.EIP}, nil
	}

	start := c.State.EIP
	prefixes, opAddr, err := scanPrefixes(c.Mem, start)
	if err != nil {
		return nil, err
	}
	op, err := c.Mem.ReadU8(opAddr)
	if err != nil {
		return nil, err
	}

	if c.Trace != nil {
		c.Trace.Stackf("step eip=0x%08X op=0x%02X", start, op)
	}

	if op == 0x0F {
		ext, err := c.Mem.ReadU8(opAddr + 1)
		if err != nil {
			return nil, err
		}
		return c.execExtended(prefixes, start, opAddr+2, ext)
	}
	return c.execPrimary(prefixes, start, opAddr+1, op)
}
