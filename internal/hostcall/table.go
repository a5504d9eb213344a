// Package hostcall implements IAT-based import resolution and the
// trampoline that hands control from interpreted guest code to a host
// Go function emulating a Windows API, spec.md §4.4. Grounded on the
// teacher's plt_got.go (PLT/GOT table construction for ELF dynamic
// linking — the same "indirect through a patched table of function
// pointers" shape as a PE IAT) and import_resolver.go (name/ordinal
// resolution order).
package hostcall

import "fmt"

// Func is one emulated Windows API entry point, spec.md §3 "HostFunction".
// Fn receives the owning VM as `any` rather than a named interface so that
// internal/hostcall never needs to import the root package (which in turn
// imports hostcall for Table/trampoline support) — callers registering a
// Func know the concrete VM type and assert it back out, the same
// decoupling the teacher's plt_got.go gets for free by generating raw
// bytes instead of calling back into compiler state.
type Func struct {
	Name         string
	Fn           func(vm any, stackPtr uint32) (uint32, error)
	StackCleanup uint32 // bytes the trampoline adds to ESP after the call (stdcall)
}

type moduleName struct {
	module, name string
}

type moduleOrdinal struct {
	module  string
	ordinal uint16
}

// Table is the import-table set described in spec.md §3: by (module,name),
// by (module,ordinal), a module-agnostic name fallback, and the IAT-address
// indices populated during resolution.
type Table struct {
	byName     map[moduleName]*Func
	byOrdinal  map[moduleOrdinal]*Func
	byAny      map[string]*Func
	byIAT      map[uint32]*Func
	byIATName  map[uint32]string

	nextDynamic uint32
	dynamicByName map[string]uint32
}

// NewTable returns an empty Table. The dynamic-import counter starts at
// 0x7000_0000, spec.md §3 "Dynamic import table".
func NewTable() *Table {
	return &Table{
		byName:        make(map[moduleName]*Func),
		byOrdinal:     make(map[moduleOrdinal]*Func),
		byAny:         make(map[string]*Func),
		byIAT:         make(map[uint32]*Func),
		byIATName:     make(map[uint32]string),
		nextDynamic:   0x7000_0000,
		dynamicByName: make(map[string]uint32),
	}
}

func normalize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Register adds fn under (module, name) and the module-agnostic fallback.
func (t *Table) Register(module, name string, fn func(any, uint32) (uint32, error), stdcallCleanup uint32) {
	f := &Func{Name: name, Fn: fn, StackCleanup: stdcallCleanup}
	t.byName[moduleName{normalize(module), normalize(name)}] = f
	if _, exists := t.byAny[normalize(name)]; !exists {
		t.byAny[normalize(name)] = f
	}
}

// RegisterOrdinal adds fn under (module, ordinal).
func (t *Table) RegisterOrdinal(module string, ordinal uint16, fn func(any, uint32) (uint32, error), stdcallCleanup uint32) {
	f := &Func{Name: fmt.Sprintf("%s!#%d", module, ordinal), Fn: fn, StackCleanup: stdcallCleanup}
	t.byOrdinal[moduleOrdinal{normalize(module), ordinal}] = f
}

// Lookup resolves an import symbol using the order in spec.md §4.4:
// (module,name), then name-only fallback, then (module,ordinal).
func (t *Table) Lookup(module, name string, ordinal uint16, byOrdinal bool) (*Func, string, bool) {
	mod := normalize(module)
	if !byOrdinal {
		nm := normalize(name)
		if f, ok := t.byName[moduleName{mod, nm}]; ok {
			return f, fmt.Sprintf("%s!%s", module, name), true
		}
		if f, ok := t.byAny[nm]; ok {
			return f, fmt.Sprintf("%s!%s", module, name), true
		}
	}
	if f, ok := t.byOrdinal[moduleOrdinal{mod, ordinal}]; ok {
		label := fmt.Sprintf("%s!#%d", module, ordinal)
		return f, label, true
	}
	label := name
	if byOrdinal || name == "" {
		label = fmt.Sprintf("#%d", ordinal)
	}
	return nil, fmt.Sprintf("%s!%s", module, label), false
}

// BindIAT records that f now lives at IAT slot address addr, and — if
// placeholderValue is non-zero — additionally indexes f by that value so
// either `CALL [iat]` or a direct `CALL iat_value` dispatches correctly,
// spec.md §4.4.
func (t *Table) BindIAT(addr uint32, label string, f *Func, placeholderValue uint32) {
	t.byIAT[addr] = f
	t.byIATName[addr] = label
	if placeholderValue != 0 && placeholderValue != addr {
		t.byIAT[placeholderValue] = f
		t.byIATName[placeholderValue] = label
	}
}

// FuncAt returns the host function bound to an IAT slot address or value.
func (t *Table) FuncAt(addr uint32) (*Func, bool) {
	f, ok := t.byIAT[addr]
	return f, ok
}

// LabelAt returns the diagnostic "MOD!name" label for an IAT address.
func (t *Table) LabelAt(addr uint32) (string, bool) {
	l, ok := t.byIATName[addr]
	return l, ok
}

// AllocateDynamic returns (or creates) a synthetic address for a
// GetProcAddress-style runtime lookup, spec.md §3 "Dynamic import table".
func (t *Table) AllocateDynamic(module, name string, fn func(any, uint32) (uint32, error), stdcallCleanup uint32) uint32 {
	key := normalize(module) + "!" + normalize(name)
	if addr, ok := t.dynamicByName[key]; ok {
		return addr
	}
	addr := t.nextDynamic
	t.nextDynamic += 4
	f := &Func{Name: name, Fn: fn, StackCleanup: stdcallCleanup}
	t.byIAT[addr] = f
	t.byIATName[addr] = fmt.Sprintf("%s!%s", module, name)
	t.dynamicByName[key] = addr
	return addr
}
