package x86

import (
	"github.com/xyproto/pevm/internal/cpustate"
	"github.com/xyproto/pevm/internal/vmem"
)

// Operand is a decoded ModR/M operand: either a register number (IsMem
// false) or a resolved effective address (IsMem true).
type Operand struct {
	IsMem bool
	Reg   uint8  // register encoding 0..7 when !IsMem
	Addr  uint32 // effective address when IsMem
}

// ModRM is a decoded ModR/M(+SIB+disp) byte sequence.
type ModRM struct {
	Mod, RegField, RM uint8
	RM_Operand        Operand
	Len               int // total bytes consumed including the ModRM byte itself
}

// decodeModRM reads a ModR/M byte (and any SIB/displacement) starting at
// addr, resolving the r/m operand against state's current GPR values. The
// 32-bit addressing forms only (no 16-bit SIB-less legacy forms), per
// spec.md's 32-bit-only scope.
func decodeModRM(mem *vmem.Memory, state *cpustate.State, addr uint32, segBase uint32) (ModRM, error) {
	var m ModRM
	b, err := mem.ReadU8(addr)
	if err != nil {
		return m, err
	}
	m.Mod = b >> 6
	m.RegField = (b >> 3) & 7
	m.RM = b & 7
	m.Len = 1

	if m.Mod == 3 {
		m.RM_Operand = Operand{IsMem: false, Reg: m.RM}
		return m, nil
	}

	var base uint32
	haveBase := true
	if m.RM == 4 {
		sib, err := mem.ReadU8(addr + uint32(m.Len))
		if err != nil {
			return m, err
		}
		m.Len++
		scale := sib >> 6
		index := (sib >> 3) & 7
		sibBase := sib & 7

		if index != 4 {
			base += state.Get32(cpustate.GPR(index)) << scale
		}
		if sibBase == 5 && m.Mod == 0 {
			disp, err := mem.ReadU32(addr + uint32(m.Len))
			if err != nil {
				return m, err
			}
			m.Len += 4
			base += disp
			haveBase = false // disp32 with no base register
		} else {
			base += state.Get32(cpustate.GPR(sibBase))
		}
		_ = haveBase
	} else if m.RM == 5 && m.Mod == 0 {
		disp, err := mem.ReadU32(addr + uint32(m.Len))
		if err != nil {
			return m, err
		}
		m.Len += 4
		base = disp // disp32, no base register
	} else {
		base = state.Get32(cpustate.GPR(m.RM))
	}

	switch m.Mod {
	case 1:
		d, err := mem.ReadU8(addr + uint32(m.Len))
		if err != nil {
			return m, err
		}
		m.Len++
		base += uint32(int32(int8(d)))
	case 2:
		d, err := mem.ReadU32(addr + uint32(m.Len))
		if err != nil {
			return m, err
		}
		m.Len += 4
		base += d
	}

	m.RM_Operand = Operand{IsMem: true, Addr: segBase + base}
	return m, nil
}

// RegName renders a ModRM register field as a mnemonic-friendly name for
// trace output, honoring operand size (32/8 bit; 16-bit reuses the 32-bit
// register's name since only its width differs).
func RegName(reg uint8, size int) string {
	if size == 1 {
		return cpustate.ByteRegName(reg)
	}
	return cpustate.GPR(reg).String()
}
