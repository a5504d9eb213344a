package x86

import "github.com/xyproto/pevm/internal/cpustate"

// readOperand fetches an operand's value at the given width (8/16/32).
func (c *CPU) readOperand(o Operand, bits int) (uint32, error) {
	if !o.IsMem {
		switch bits {
		case 8:
			return uint32(c.State.Get8(o.Reg)), nil
		case 16:
			return uint32(c.State.Get16(cpustate.GPR(o.Reg))), nil
		default:
			return c.State.Get32(cpustate.GPR(o.Reg)), nil
		}
	}
	switch bits {
	case 8:
		v, err := c.Mem.ReadU8(o.Addr)
		return uint32(v), err
	case 16:
		v, err := c.Mem.ReadU16(o.Addr)
		return uint32(v), err
	default:
		return c.Mem.ReadU32(o.Addr)
	}
}

// writeOperand stores a value into a register or memory operand at the
// given width.
func (c *CPU) writeOperand(o Operand, bits int, v uint32) error {
	if !o.IsMem {
		switch bits {
		case 8:
			c.State.Set8(o.Reg, uint8(v))
		case 16:
			c.State.Set16(cpustate.GPR(o.Reg), uint16(v))
		default:
			c.State.Set32(cpustate.GPR(o.Reg), v)
		}
		return nil
	}
	switch bits {
	case 8:
		return c.Mem.WriteU8(o.Addr, uint8(v))
	case 16:
		return c.Mem.WriteU16(o.Addr, uint16(v))
	default:
		return c.Mem.WriteU32(o.Addr, v)
	}
}

// regOperand builds a register-direct Operand for a ModRM reg field.
func regOperand(reg uint8) Operand { return Operand{IsMem: false, Reg: reg} }

// opWidth picks 8, 16, or 32 from the opcode's width bit and the 0x66
// operand-size prefix.
func opWidth(wBit bool, p Prefixes) int {
	if !wBit {
		return 8
	}
	if p.OperandSize {
		return 16
	}
	return 32
}
