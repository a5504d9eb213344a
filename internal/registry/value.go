// Package registry is the in-memory Windows registry model this
// interpreter presents to guest RegOpenKeyEx/RegQueryValueEx calls and
// the COM runtime's CLSID lookups, spec.md §4.6. Grounded on
// original_source/src/vm/windows/registry/{value,key,store,reg_file,yaml}.rs
// — the value variants, hive tree, .reg file grammar, and YAML seed
// format are carried over unchanged; only the host language idiom
// changes (Rust enum+BTreeMap -> Go tagged struct+map, ported the way the
// teacher's own tree-shaped data (PE resource directory, ELF section
// table) is modeled as nested Go structs rather than pointer graphs).
package registry

import "fmt"

// Value is one of the four registry value shapes spec.md names:
// String (REG_SZ), Dword (REG_DWORD), MultiString (REG_MULTI_SZ), or
// Binary (REG_BINARY).
type Value struct {
	Kind        ValueKind
	StringVal   string
	DwordVal    uint32
	MultiVal    []string
	BinaryVal   []byte
}

type ValueKind int

const (
	KindString ValueKind = iota
	KindDword
	KindMultiString
	KindBinary
)

func StringValue(s string) Value        { return Value{Kind: KindString, StringVal: s} }
func DwordValue(d uint32) Value         { return Value{Kind: KindDword, DwordVal: d} }
func MultiStringValue(v []string) Value { return Value{Kind: KindMultiString, MultiVal: v} }
func BinaryValue(b []byte) Value        { return Value{Kind: KindBinary, BinaryVal: b} }

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.StringVal
	case KindDword:
		return fmt.Sprintf("0x%08X", v.DwordVal)
	case KindMultiString:
		return fmt.Sprintf("%v", v.MultiVal)
	default:
		return fmt.Sprintf("% X", v.BinaryVal)
	}
}
