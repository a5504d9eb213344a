package x86

import "math"

// execFpu handles the D8-DF x87 block against the eight-slot FPU stack,
// spec.md §3 "FPU" / §4.2 "FPU D8-DF". Only the load/store/arithmetic
// subset a typical compiler emits for scalar float math is implemented;
// anything else surfaces as UnsupportedOpcodeError.
func (c *CPU) execFpu(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)

	switch opcode {
	case 0xD9:
		switch m.RegField {
		case 0: // FLD m32real (memory only; register form FLD ST(i) handled via mod==3 below)
			if m.Mod == 3 {
				v, err := c.fpuPeek(m.RM)
				if err != nil {
					return nil, err
				}
				if err := c.fpuPush(v); err != nil {
					return nil, err
				}
			} else {
				bits, err := c.Mem.ReadU32(m.RM_Operand.Addr)
				if err != nil {
					return nil, err
				}
				if err := c.fpuPush(float64(math.Float32frombits(bits))); err != nil {
					return nil, err
				}
			}
		case 2: // FST m32real (no pop); the register form FST ST(i) is unsupported
			v, err := c.fpuPeek(0)
			if err != nil {
				return nil, err
			}
			if m.Mod == 3 {
				return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
			}
			if err := c.Mem.WriteU32(m.RM_Operand.Addr, math.Float32bits(float32(v))); err != nil {
				return nil, err
			}
		case 3: // FSTP m32real
			v, err := c.fpuPop()
			if err != nil {
				return nil, err
			}
			if err := c.Mem.WriteU32(m.RM_Operand.Addr, math.Float32bits(float32(v))); err != nil {
				return nil, err
			}
		default:
			return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
		}
	case 0xDD:
		switch m.RegField {
		case 0: // FLD m64real
			bits, err := c.Mem.ReadU64(m.RM_Operand.Addr)
			if err != nil {
				return nil, err
			}
			if err := c.fpuPush(math.Float64frombits(bits)); err != nil {
				return nil, err
			}
		case 2: // FST m64real
			v, err := c.fpuPeek(0)
			if err != nil {
				return nil, err
			}
			if err := c.Mem.WriteU64(m.RM_Operand.Addr, math.Float64bits(v)); err != nil {
				return nil, err
			}
		case 3: // FSTP m64real
			v, err := c.fpuPop()
			if err != nil {
				return nil, err
			}
			if err := c.Mem.WriteU64(m.RM_Operand.Addr, math.Float64bits(v)); err != nil {
				return nil, err
			}
		default:
			return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
		}
	case 0xDC, 0xD8: // arithmetic against m64real (DC) or m32real (D8), memory form only
		if m.Mod == 3 {
			return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
		}
		var operand float64
		if opcode == 0xDC {
			bits, err := c.Mem.ReadU64(m.RM_Operand.Addr)
			if err != nil {
				return nil, err
			}
			operand = math.Float64frombits(bits)
		} else {
			bits, err := c.Mem.ReadU32(m.RM_Operand.Addr)
			if err != nil {
				return nil, err
			}
			operand = float64(math.Float32frombits(bits))
		}
		top, err := c.fpuPeek(0)
		if err != nil {
			return nil, err
		}
		var result float64
		switch m.RegField {
		case 0:
			result = top + operand
		case 4:
			result = top - operand
		case 1:
			result = top * operand
		case 6:
			result = top / operand
		default:
			return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
		}
		c.State.FPU.Stack[c.State.FPU.Top] = result
	default:
		return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
	}
	c.State.EIP = after
	return nil, nil
}

func (c *CPU) fpuPush(v float64) error { return c.State.FPU.Push(v) }

func (c *CPU) fpuPop() (float64, error) { return c.State.FPU.Pop() }

func (c *CPU) fpuPeek(n uint8) (float64, error) { return c.State.FPU.Peek(n) }
