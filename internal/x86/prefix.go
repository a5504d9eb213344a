// Package x86 is the 32-bit x86 (IA-32) instruction decoder and
// interpreter: ModR/M+SIB addressing, the primary and 0F-extended opcode
// maps, a practical SSE subset, the eight-slot x87 stack, REP string ops,
// and arithmetic flag semantics, spec.md §4.2. Grounded on the teacher's
// per-mnemonic encoder files (mov.go, div.go, cmp.go, push.go, shl.go,
// imul.go, movzx.go, ...), each generalized from "emit bytes for this
// mnemonic" into "decode and execute this mnemonic" — the same opcode
// tables and ModRM bit layouts, read instead of written.
package x86

import "github.com/xyproto/pevm/internal/vmem"

// Seg identifies a segment-override prefix. Only FS and GS are
// observable in practice (guest access to the TEB/PEB), spec.md §4.2.
type Seg int

const (
	SegNone Seg = iota
	SegCS
	SegSS
	SegDS
	SegES
	SegFS
	SegGS
)

// Prefixes holds every legacy prefix byte seen before an opcode.
type Prefixes struct {
	OperandSize bool // 0x66
	AddressSize bool // 0x67
	Lock        bool // 0xF0
	RepNZ       bool // 0xF2 (REPNE/REPNZ, also SSE mandatory prefix)
	Rep         bool // 0xF3 (REP/REPE/REPZ, also SSE mandatory prefix)
	Segment     Seg
}

// scanPrefixes consumes legacy prefix bytes starting at addr, returning the
// decoded set and the address of the first non-prefix byte (the opcode).
func scanPrefixes(mem *vmem.Memory, addr uint32) (Prefixes, uint32, error) {
	var p Prefixes
	for {
		b, err := mem.ReadU8(addr)
		if err != nil {
			return p, addr, err
		}
		switch b {
		case 0x66:
			p.OperandSize = true
		case 0x67:
			p.AddressSize = true
		case 0xF0:
			p.Lock = true
		case 0xF2:
			p.RepNZ = true
		case 0xF3:
			p.Rep = true
		case 0x2E:
			p.Segment = SegCS
		case 0x36:
			p.Segment = SegSS
		case 0x3E:
			p.Segment = SegDS
		case 0x26:
			p.Segment = SegES
		case 0x64:
			p.Segment = SegFS
		case 0x65:
			p.Segment = SegGS
		default:
			return p, addr, nil
		}
		addr++
	}
}
