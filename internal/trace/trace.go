// Package trace reads the PE_VM_TRACE* environment flags once at VM
// construction and exposes cheap checks the rest of the emulator can
// call from hot paths without touching the environment again.
package trace

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/xyproto/env/v2"
)

// Flags holds a snapshot of every PE_VM_TRACE* / PE_VM_ABORT_ON_MISSING_IMPORT
// / PE_VM_REGISTER_SERVER environment toggle recognized by spec.md §6.
type Flags struct {
	Coarse             bool
	Imports            bool
	Unsupported        bool
	Stack              bool
	COM                bool
	AbortOnMissingImport bool
	RegisterServer     bool

	watch     []addrRange
	breakEIP  uint32
	breakOnce bool

	mu       sync.Mutex
	breakHit bool
}

type addrRange struct {
	lo, hi uint32
}

// Load reads every recognized PE_VM_* variable from the process
// environment. Unrecognized flags are ignored, per spec.md §6.
func Load() *Flags {
	f := &Flags{
		Coarse:               env.Bool("PE_VM_TRACE"),
		Imports:              env.Bool("PE_VM_TRACE_IMPORTS"),
		Unsupported:          env.Bool("PE_VM_TRACE_UNSUPPORTED"),
		Stack:                env.Bool("PE_VM_TRACE_STACK"),
		COM:                  env.Bool("PE_VM_TRACE_COM"),
		AbortOnMissingImport: env.Bool("PE_VM_ABORT_ON_MISSING_IMPORT"),
		RegisterServer:       env.Bool("PE_VM_REGISTER_SERVER"),
	}
	f.watch = parseAddrList(env.Str("PE_VM_TRACE_ADDR"))
	if s := env.Str("PE_VM_TRACE_EIP"); s != "" {
		if v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32); err == nil {
			f.breakEIP = uint32(v)
		}
	}
	f.breakOnce = env.Bool("PE_VM_TRACE_EIP_ONCE")
	return f
}

func parseAddrList(s string) []addrRange {
	if s == "" {
		return nil
	}
	var out []addrRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loV, err1 := strconv.ParseUint(strings.TrimPrefix(lo, "0x"), 16, 32)
			hiV, err2 := strconv.ParseUint(strings.TrimPrefix(hi, "0x"), 16, 32)
			if err1 == nil && err2 == nil {
				out = append(out, addrRange{uint32(loV), uint32(hiV)})
			}
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(part, "0x"), 16, 32)
		if err == nil {
			out = append(out, addrRange{uint32(v), uint32(v)})
		}
	}
	return out
}

// WatchAddr reports whether addr falls within a PE_VM_TRACE_ADDR range.
func (f *Flags) WatchAddr(addr uint32) bool {
	if f == nil {
		return false
	}
	for _, r := range f.watch {
		if addr >= r.lo && addr <= r.hi {
			return true
		}
	}
	return false
}

// BreakEIP reports whether eip matches PE_VM_TRACE_EIP. When
// PE_VM_TRACE_EIP_ONCE is set, it fires only the first time.
func (f *Flags) BreakEIP(eip uint32) bool {
	if f == nil || f.breakEIP == 0 || eip != f.breakEIP {
		return false
	}
	if !f.breakOnce {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.breakHit {
		return false
	}
	f.breakHit = true
	return true
}

// Logf writes a coarse trace line to stderr when enabled.
func (f *Flags) Logf(format string, args ...any) {
	if f == nil || !f.Coarse {
		return
	}
	fmt.Fprintf(os.Stderr, "[pevm] "+format+"\n", args...)
}

// Importf writes a per-import-call trace line when PE_VM_TRACE_IMPORTS is set.
func (f *Flags) Importf(format string, args ...any) {
	if f == nil || !f.Imports {
		return
	}
	fmt.Fprintf(os.Stderr, "[pevm:import] "+format+"\n", args...)
}

// Unsupportedf logs the offending opcode bytes when PE_VM_TRACE_UNSUPPORTED is set.
func (f *Flags) Unsupportedf(format string, args ...any) {
	if f == nil || !f.Unsupported {
		return
	}
	fmt.Fprintf(os.Stderr, "[pevm:unsupported] "+format+"\n", args...)
}

// Stackf logs a nested-entry stack preview when PE_VM_TRACE_STACK is set.
func (f *Flags) Stackf(format string, args ...any) {
	if f == nil || !f.Stack {
		return
	}
	fmt.Fprintf(os.Stderr, "[pevm:stack] "+format+"\n", args...)
}

// COMf logs COM activation steps when PE_VM_TRACE_COM is set.
func (f *Flags) COMf(format string, args ...any) {
	if f == nil || !f.COM {
		return
	}
	fmt.Fprintf(os.Stderr, "[pevm:com] "+format+"\n", args...)
}
