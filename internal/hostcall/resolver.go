package hostcall

import (
	"github.com/xyproto/pevm/internal/peformat"
)

// Memory is the subset of vmem.Memory the resolver needs to patch IAT slots.
type Memory interface {
	ReadU32(addr uint32) (uint32, error)
	WriteU32(addr uint32, v uint32) error
}

// ResolveResult reports every import symbol the resolver could not bind.
type ResolveResult struct {
	Missing []string
}

// Resolve patches every import's IAT slot with the address of its
// resolved host function, trying (module,name), name-only fallback, then
// (module,ordinal), per spec.md §4.4. It collects every unresolved label
// before returning so the caller sees the complete set, spec.md §7.
//
// Resolve is idempotent: calling it twice with the same Table and Memory
// state writes the same IAT contents both times, spec.md §8.
func Resolve(mem Memory, base uint32, imports []peformat.ImportSymbol, table *Table) ResolveResult {
	var res ResolveResult
	for _, imp := range imports {
		f, label, ok := table.Lookup(imp.Module, imp.Name, imp.Ordinal, imp.ByOrdinal)
		iatAddr := base + imp.IATRva
		if !ok {
			res.Missing = append(res.Missing, label)
			continue
		}
		placeholder, _ := mem.ReadU32(iatAddr)
		table.BindIAT(iatAddr, label, f, placeholder)
		// Patch the IAT slot itself to a synthetic, recognizable host
		// address so a guest `CALL [iat]` lands on an address FuncAt can
		// resolve even when the slot's original placeholder collided
		// with another import.
		_ = mem.WriteU32(iatAddr, iatAddr)
	}
	return res
}

// BindSecondary binds host function f to an IAT slot after the primary
// image was loaded: it records f under iatAddr and writes iatAddr into the
// slot, the same patching Resolve does. It takes no guest address and
// does not write a secondary module's function VA into the slot.
func BindSecondary(mem Memory, iatAddr uint32, table *Table, label string, f *Func) {
	table.BindIAT(iatAddr, label, f, 0)
	_ = mem.WriteU32(iatAddr, iatAddr)
}
