package x86

import "github.com/xyproto/pevm/internal/cpustate"

// execGroup3 handles F6/F7 /0-/7: TEST r/m,imm; NOT r/m; NEG r/m; MUL
// r/m; IMUL r/m (one-operand form); DIV r/m; IDIV r/m.
func (c *CPU) execGroup3(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	bits := 8
	if opcode == 0xF7 {
		bits = opWidth(true, prefixes)
	}
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)

	switch m.RegField {
	case 0, 1: // TEST r/m, imm
		n := 1
		if bits == 16 {
			n = 2
		} else if bits == 32 {
			n = 4
		}
		imm, err := c.readImm(after, n)
		if err != nil {
			return nil, err
		}
		after += uint32(n)
		v, err := c.readOperand(m.RM_Operand, bits)
		if err != nil {
			return nil, err
		}
		setLogicFlags(c.State, v&imm, bits)
		c.State.EIP = after
		return nil, nil
	case 2: // NOT
		v, err := c.readOperand(m.RM_Operand, bits)
		if err != nil {
			return nil, err
		}
		if err := c.writeOperand(m.RM_Operand, bits, mask(^v, bits)); err != nil {
			return nil, err
		}
		c.State.EIP = after
		return nil, nil
	case 3: // NEG
		v, err := c.readOperand(m.RM_Operand, bits)
		if err != nil {
			return nil, err
		}
		r := setSubFlags(c.State, 0, v, 0, bits)
		c.State.CF = v != 0
		if err := c.writeOperand(m.RM_Operand, bits, r); err != nil {
			return nil, err
		}
		c.State.EIP = after
		return nil, nil
	case 4: // MUL (unsigned)
		return c.execMulDiv(m, bits, after, false, false)
	case 5: // IMUL (signed, one-operand form)
		return c.execMulDiv(m, bits, after, true, false)
	case 6: // DIV (unsigned)
		return c.execMulDiv(m, bits, after, false, true)
	case 7: // IDIV (signed)
		return c.execMulDiv(m, bits, after, true, true)
	}
	return nil, &UnsupportedOpcodeError{Opcode: opcode, EIP: c.State.EIP}
}

// execMulDiv implements the one-operand MUL/IMUL/DIV/IDIV forms against
// EDX:EAX (DX:AX for 16-bit, AX for 8-bit), spec.md's div.go / imul.go
// counterpart.
func (c *CPU) execMulDiv(m ModRM, bits int, after uint32, signed, divide bool) (*ImportHit, error) {
	operand, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}

	if divide && operand == 0 {
		return nil, &DivideError{}
	}

	switch bits {
	case 32:
		lo := uint64(c.State.Get32(cpustate.EAX))
		hi := uint64(c.State.Get32(cpustate.EDX))
		wide := (hi << 32) | lo
		if !divide {
			var product uint64
			var overflow bool
			if signed {
				p := int64(int32(lo)) * int64(int32(operand))
				product = uint64(p)
				overflow = p != int64(int32(p))
			} else {
				product = lo * uint64(operand)
				overflow = (product >> 32) != 0
			}
			c.State.Set32(cpustate.EAX, uint32(product))
			c.State.Set32(cpustate.EDX, uint32(product>>32))
			c.State.CF = overflow
			c.State.OF = overflow
		} else {
			if signed {
				q := int64(wide) / int64(int32(operand))
				r := int64(wide) % int64(int32(operand))
				if q > int64(int32(0x7FFFFFFF)) || q < int64(int32(0x80000000)) {
					return nil, &DivideError{}
				}
				c.State.Set32(cpustate.EAX, uint32(int32(q)))
				c.State.Set32(cpustate.EDX, uint32(int32(r)))
			} else {
				q := wide / uint64(operand)
				r := wide % uint64(operand)
				if q > 0xFFFFFFFF {
					return nil, &DivideError{}
				}
				c.State.Set32(cpustate.EAX, uint32(q))
				c.State.Set32(cpustate.EDX, uint32(r))
			}
		}
	case 16:
		ax := uint32(c.State.Get16(cpustate.EAX))
		if !divide {
			var product uint32
			if signed {
				product = uint32(int32(int16(ax)) * int32(int16(operand)))
			} else {
				product = ax * operand
			}
			c.State.Set16(cpustate.EAX, uint16(product))
			c.State.Set16(cpustate.EDX, uint16(product>>16))
		} else {
			dx := uint32(c.State.Get16(cpustate.EDX))
			wide := (dx << 16) | ax
			if signed {
				q := int32(int32(wide)) / int32(int16(operand))
				r := int32(int32(wide)) % int32(int16(operand))
				c.State.Set16(cpustate.EAX, uint16(q))
				c.State.Set16(cpustate.EDX, uint16(r))
			} else {
				c.State.Set16(cpustate.EAX, uint16(wide/operand))
				c.State.Set16(cpustate.EDX, uint16(wide%operand))
			}
		}
	default: // 8
		al := uint32(c.State.Get8(0))
		if !divide {
			var product uint32
			if signed {
				product = uint32(int32(int8(al)) * int32(int8(operand)))
			} else {
				product = al * operand
			}
			c.State.Set16(cpustate.EAX, uint16(product))
		} else {
			ax := uint32(c.State.Get16(cpustate.EAX))
			if signed {
				q := int32(int16(ax)) / int32(int8(operand))
				r := int32(int16(ax)) % int32(int8(operand))
				c.State.Set8(0, uint8(q))
				c.State.Set8(4, uint8(r))
			} else {
				c.State.Set8(0, uint8(ax/operand))
				c.State.Set8(4, uint8(ax%operand))
			}
		}
	}
	c.State.EIP = after
	return nil, nil
}

// execGroup5 handles FF /0-/6: INC r/m; DEC r/m; CALL r/m (near, indirect);
// JMP r/m (near, indirect); PUSH r/m.
func (c *CPU) execGroup5(prefixes Prefixes, next uint32) (*ImportHit, error) {
	bits := opWidth(true, prefixes)
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)

	switch m.RegField {
	case 0:
		return c.execIncDecRM(prefixes, m, after, bits, true)
	case 1:
		return c.execIncDecRM(prefixes, m, after, bits, false)
	case 2: // CALL r/m32
		target, err := c.readOperand(m.RM_Operand, 32)
		if err != nil {
			return nil, err
		}
		if err := c.push32(after); err != nil {
			return nil, err
		}
		c.State.EIP = target
		return nil, nil
	case 4: // JMP r/m32
		target, err := c.readOperand(m.RM_Operand, 32)
		if err != nil {
			return nil, err
		}
		c.State.EIP = target
		return nil, nil
	case 6: // PUSH r/m32
		v, err := c.readOperand(m.RM_Operand, 32)
		if err != nil {
			return nil, err
		}
		if err := c.push32(v); err != nil {
			return nil, err
		}
		c.State.EIP = after
		return nil, nil
	}
	return nil, &UnsupportedOpcodeError{Opcode: 0xFF, EIP: c.State.EIP}
}

// execGroup4 handles FE /0 /1: INC/DEC r/m8.
func (c *CPU) execGroup4(prefixes Prefixes, next uint32) (*ImportHit, error) {
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)
	switch m.RegField {
	case 0:
		return c.execIncDecRM(prefixes, m, after, 8, true)
	case 1:
		return c.execIncDecRM(prefixes, m, after, 8, false)
	}
	return nil, &UnsupportedOpcodeError{Opcode: 0xFE, EIP: c.State.EIP}
}
