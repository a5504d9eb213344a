package x86

import "github.com/xyproto/pevm/internal/cpustate"

// execMovRM handles MOV r/m,r (88/89) and MOV r,r/m (8A/8B).
func (c *CPU) execMovRM(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	bits := opWidth(opcode == 0x89 || opcode == 0x8B, prefixes)
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	var v uint32
	if opcode == 0x88 || opcode == 0x89 {
		v, err = c.readOperand(regOperand(m.RegField), bits)
		if err != nil {
			return nil, err
		}
		if err := c.writeOperand(m.RM_Operand, bits, v); err != nil {
			return nil, err
		}
	} else {
		v, err = c.readOperand(m.RM_Operand, bits)
		if err != nil {
			return nil, err
		}
		if err := c.writeOperand(regOperand(m.RegField), bits, v); err != nil {
			return nil, err
		}
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execMovImmReg handles MOV r8/r32, imm (B0-BF).
func (c *CPU) execMovImmReg(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	if opcode < 0xB8 {
		reg := opcode & 7
		v, err := c.Mem.ReadU8(next)
		if err != nil {
			return nil, err
		}
		c.State.Set8(reg, v)
		c.State.EIP = next + 1
		return nil, nil
	}
	reg := cpustate.GPR(opcode & 7)
	bits := opWidth(true, prefixes)
	v, err := c.Mem.ReadU32(next) // B8-BF carries a full imm32 regardless of the 0x66 prefix
	if err != nil {
		return nil, err
	}
	if bits == 16 {
		v &= 0xFFFF
	}
	c.State.Set32(reg, v)
	c.State.EIP = next + 4
	return nil, nil
}

// execMovImmRM handles MOV r/m, imm (C6/C7).
func (c *CPU) execMovImmRM(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	bits := 8
	if opcode == 0xC7 {
		bits = opWidth(true, prefixes)
	}
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	after := next + uint32(m.Len)
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
	if err := c.writeOperand(m.RM_Operand, bits, imm); err != nil {
		return nil, err
	}
	c.State.EIP = after + uint32(n)
	return nil, nil
}

// execLea handles LEA r32, m (8D) — the effective address itself is the
// value, no memory is read.
func (c *CPU) execLea(prefixes Prefixes, next uint32) (*ImportHit, error) {
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	if !m.RM_Operand.IsMem {
		return nil, &UnsupportedOpcodeError{Opcode: 0x8D, EIP: c.State.EIP}
	}
	c.State.Set32(cpustate.GPR(m.RegField), m.RM_Operand.Addr)
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execXchg handles XCHG r/m,r (86/87) and XCHG eAX,r (90-97, except 90 = NOP).
func (c *CPU) execXchg(prefixes Prefixes, next uint32, opcode byte) (*ImportHit, error) {
	if opcode >= 0x91 && opcode <= 0x97 {
		reg := cpustate.GPR(opcode & 7)
		a := c.State.Get32(cpustate.EAX)
		b := c.State.Get32(reg)
		c.State.Set32(cpustate.EAX, b)
		c.State.Set32(reg, a)
		c.State.EIP = next
		return nil, nil
	}
	bits := opWidth(opcode == 0x87, prefixes)
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	a, err := c.readOperand(m.RM_Operand, bits)
	if err != nil {
		return nil, err
	}
	b, err := c.readOperand(regOperand(m.RegField), bits)
	if err != nil {
		return nil, err
	}
	if err := c.writeOperand(m.RM_Operand, bits, b); err != nil {
		return nil, err
	}
	if err := c.writeOperand(regOperand(m.RegField), bits, a); err != nil {
		return nil, err
	}
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execMovzxMovsx handles the 0F-extended MOVZX/MOVSX r32, r/m8|16.
func (c *CPU) execMovzxMovsx(prefixes Prefixes, next uint32, ext byte) (*ImportHit, error) {
	srcBits := 8
	if ext == 0xB7 || ext == 0xBF {
		srcBits = 16
	}
	signed := ext == 0xBE || ext == 0xBF
	m, err := decodeModRM(c.Mem, c.State, next, c.segBase(prefixes))
	if err != nil {
		return nil, err
	}
	v, err := c.readOperand(m.RM_Operand, srcBits)
	if err != nil {
		return nil, err
	}
	var ext32 uint32
	if signed {
		if srcBits == 8 {
			ext32 = uint32(int32(int8(v)))
		} else {
			ext32 = uint32(int32(int16(v)))
		}
	} else {
		ext32 = v
	}
	c.State.Set32(cpustate.GPR(m.RegField), ext32)
	c.State.EIP = next + uint32(m.Len)
	return nil, nil
}

// execCdq handles CDQ (0x99): sign-extends EAX into EDX:EAX.
func (c *CPU) execCdq(next uint32) (*ImportHit, error) {
	eax := c.State.Get32(cpustate.EAX)
	if int32(eax) < 0 {
		c.State.Set32(cpustate.EDX, 0xFFFFFFFF)
	} else {
		c.State.Set32(cpustate.EDX, 0)
	}
	c.State.EIP = next
	return nil, nil
}
